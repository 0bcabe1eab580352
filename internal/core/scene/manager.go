// Package scene keeps a local, optimistic copy of the engine's scene graph in
// step with the authoritative copy on the server.
//
// Locally created nodes get negative placeholder ids until the server assigns
// real ones. Local edits are tracked per field together with the sequence
// number of the request that carried them, so a reply to an older request
// never overwrites a newer edit. All methods must be called from the
// goroutine that cycles the session.
package scene

import (
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/singed/scenelink/internal/core/observability/log"
)

type Manager struct {
	logger    log.Log
	nodeHooks NodeHooks

	// arena
	nodes      map[NodeKey]*Node
	ids        map[NodeID]NodeKey
	tombstones map[NodeID]struct{}
	lastKey    NodeKey
	nextFakeID NodeID

	unsentNewNodes map[NodeKey]*Node
	sentNewNodes   map[uint32]map[NodeID]*Node
	destroyedNodes []*Node

	changedRoots      *dirtyTable[NodeKey]
	changedNames      *dirtyTable[NodeKey]
	changedTransforms *dirtyTable[NodeKey]

	components map[string]*ComponentType

	sentSceneQuery bool
	sceneLoaded    bool
	nextEntityID   int64

	saveScenePath      string
	lightmaps          *LightmapParams
	lightmapsGenerated func(elapsed time.Duration)
}

func NewManager(logger log.Log) *Manager {
	return &Manager{
		logger:            logger.With(log.String("component", "scene")),
		nodeHooks:         BaseNodeHooks{},
		nodes:             make(map[NodeKey]*Node),
		ids:               make(map[NodeID]NodeKey),
		tombstones:        make(map[NodeID]struct{}),
		nextFakeID:        -1,
		unsentNewNodes:    make(map[NodeKey]*Node),
		sentNewNodes:      make(map[uint32]map[NodeID]*Node),
		changedRoots:      newDirtyTable[NodeKey](),
		changedNames:      newDirtyTable[NodeKey](),
		changedTransforms: newDirtyTable[NodeKey](),
		components:        make(map[string]*ComponentType),
	}
}

// SetNodeHooks replaces the node lifecycle hooks. nil restores the no-op
// hooks.
func (m *Manager) SetNodeHooks(hooks NodeHooks) {
	if hooks == nil {
		hooks = BaseNodeHooks{}
	}
	m.nodeHooks = hooks
}

// SetComponentHooks sets the hooks of the named component type, creating the
// type if the server has not mentioned it yet.
func (m *Manager) SetComponentHooks(typeName string, hooks ComponentHooks) {
	m.ComponentType(typeName).SetHooks(hooks)
}

// RequestNewNode creates a node with a placeholder id and queues it for the
// next new_node request.
func (m *Manager) RequestNewNode(userData any) *Node {
	n := m.insertNode(m.nextFakeID)
	n.fakeID = n.id
	n.UserData = userData
	m.nextFakeID--

	m.unsentNewNodes[n.key] = n
	return n
}

// RequestDestroyNode destroys n, its descendants and all of their component
// instances. Destroying a node the server was never told about needs no
// request; a node whose new_node request is in flight is destroyed on the
// server once its real id arrives.
func (m *Manager) RequestDestroyNode(n *Node) {
	if n == nil || n.destroyed {
		return
	}
	m.destroyNode(n, true)
}

func (m *Manager) destroyNode(n *Node, local bool) {
	if n.destroyed {
		return
	}
	n.destroyed = true

	for _, child := range m.children(n) {
		m.destroyNode(child, local)
	}

	for _, name := range m.ComponentTypes() {
		m.components[name].dropNode(n)
	}

	delete(m.nodes, n.key)
	delete(m.ids, n.id)
	m.tombstones[n.id] = struct{}{}
	if n.fakeID != NullID {
		delete(m.ids, n.fakeID)
		m.tombstones[n.fakeID] = struct{}{}
	}

	m.changedRoots.remove(n.key)
	m.changedNames.remove(n.key)
	m.changedTransforms.remove(n.key)

	if local {
		if _, unsent := m.unsentNewNodes[n.key]; unsent {
			delete(m.unsentNewNodes, n.key)
		} else {
			m.destroyedNodes = append(m.destroyedNodes, n)
		}
	}

	m.logger.Debug("Node destroyed", log.Int64("id", int64(n.id)), log.Bool("local", local))
	m.nodeHooks.NodeDestroyed(m, n)
}

func (m *Manager) MarkNameDirty(n *Node) error {
	if err := m.checkLive(n); err != nil {
		return err
	}
	m.changedNames.mark(n.key)
	return nil
}

func (m *Manager) MarkRootDirty(n *Node) error {
	if err := m.checkLive(n); err != nil {
		return err
	}
	m.changedRoots.mark(n.key)
	return nil
}

func (m *Manager) MarkLocalTransformDirty(n *Node) error {
	if err := m.checkLive(n); err != nil {
		return err
	}
	m.changedTransforms.mark(n.key)
	return nil
}

func (m *Manager) SetName(n *Node, name string) error {
	if err := m.checkLive(n); err != nil {
		return err
	}
	n.Name = name
	m.changedNames.mark(n.key)
	return nil
}

// SetRoot re-parents n. A nil root detaches it.
func (m *Manager) SetRoot(n, root *Node) error {
	if err := m.checkLive(n); err != nil {
		return err
	}

	key := noKey
	if root != nil {
		if err := m.checkLive(root); err != nil {
			return fmt.Errorf("root: %w", err)
		}
		for cur := root; cur != nil; cur = m.nodes[cur.root] {
			if cur == n {
				return fmt.Errorf("%w: %d under %d", ErrRootCycle, n.id, root.id)
			}
		}
		key = root.key
	}

	n.root = key
	m.changedRoots.mark(n.key)
	return nil
}

func (m *Manager) SetLocalTransform(n *Node, t Transform) error {
	if err := m.checkLive(n); err != nil {
		return err
	}
	if !t.Valid() {
		return ErrBadTransform
	}
	n.Transform = t
	m.changedTransforms.mark(n.key)
	return nil
}

// Node looks up a live node by its current id. Placeholder ids stop
// resolving once the server assigns the real one.
func (m *Manager) Node(id NodeID) (*Node, bool) {
	key, ok := m.ids[id]
	if !ok {
		return nil, false
	}
	return m.nodes[key], true
}

// Nodes returns every live node ordered by id.
func (m *Manager) Nodes() []*Node {
	out := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	return sortNodes(out)
}

// Root returns n's root, or nil.
func (m *Manager) Root(n *Node) *Node {
	if n.root == noKey {
		return nil
	}
	return m.nodes[n.root]
}

// Children returns the live nodes rooted at n, ordered by id.
func (m *Manager) Children(n *Node) []*Node {
	if n.destroyed {
		return nil
	}
	return m.children(n)
}

func (m *Manager) children(n *Node) []*Node {
	var out []*Node
	for _, c := range m.nodes {
		if c.root == n.key && !c.destroyed {
			out = append(out, c)
		}
	}
	return sortNodes(out)
}

// ComponentType returns the named component type, creating it on first use.
func (m *Manager) ComponentType(name string) *ComponentType {
	ct, ok := m.components[name]
	if !ok {
		ct = newComponentType(name, m)
		m.components[name] = ct
	}
	return ct
}

// ComponentTypes returns the known component type names, sorted.
func (m *Manager) ComponentTypes() []string {
	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NodeComponents returns n's live instances ordered by type name.
func (m *Manager) NodeComponents(n *Node) []*ComponentInstance {
	var out []*ComponentInstance
	for _, name := range m.ComponentTypes() {
		if inst, ok := m.components[name].Instance(n); ok {
			out = append(out, inst)
		}
	}
	return out
}

// NextEntityID is the server's next entity id as of the scene snapshot.
func (m *Manager) NextEntityID() int64 {
	return m.nextEntityID
}

// Loaded reports whether the initial scene snapshot has been applied.
func (m *Manager) Loaded() bool {
	return m.sceneLoaded
}

// Fingerprint hashes the visible scene state: nodes, roots, transforms and
// loaded component values.
func (m *Manager) Fingerprint() uint64 {
	h := xxhash.New()
	for _, n := range m.Nodes() {
		var rootID NodeID
		if root := m.Root(n); root != nil {
			rootID = root.id
		}
		_, _ = fmt.Fprintf(h, "n|%d|%q|%d|%v|%v|%v\n",
			n.id, n.Name, rootID, n.Transform.Position, n.Transform.Rotation, n.Transform.Scale)
	}
	for _, name := range m.ComponentTypes() {
		for _, inst := range m.components[name].Instances() {
			_, _ = fmt.Fprintf(h, "c|%q|%d|%t|%x\n", name, m.idOf(inst.node), inst.loaded, inst.value.Fingerprint())
		}
	}
	return h.Sum64()
}

// Stats summarizes outstanding work, mostly for logging.
type Stats struct {
	Nodes            int
	FakeNodes        int
	UnsentNewNodes   int
	InFlightNewNodes int
	PendingDestroys  int
	DirtyNames       int
	DirtyRoots       int
	DirtyTransforms  int
	ComponentTypes   int
	Instances        int
	PendingSave      bool
	PendingLightmaps bool
}

func (m *Manager) Stats() Stats {
	s := Stats{
		Nodes:            len(m.nodes),
		UnsentNewNodes:   len(m.unsentNewNodes),
		PendingDestroys:  len(m.destroyedNodes),
		DirtyNames:       m.changedNames.len(),
		DirtyRoots:       m.changedRoots.len(),
		DirtyTransforms:  m.changedTransforms.len(),
		ComponentTypes:   len(m.components),
		PendingSave:      m.saveScenePath != "",
		PendingLightmaps: m.lightmaps != nil,
	}
	for _, n := range m.nodes {
		if n.IsFake() {
			s.FakeNodes++
		}
	}
	for _, batch := range m.sentNewNodes {
		s.InFlightNewNodes += len(batch)
	}
	for _, ct := range m.components {
		s.Instances += len(ct.instances)
	}
	return s
}

func (m *Manager) insertNode(id NodeID) *Node {
	m.lastKey++
	n := &Node{
		key:       m.lastKey,
		id:        id,
		Transform: IdentityTransform(),
	}
	m.nodes[n.key] = n
	m.ids[id] = n.key
	return n
}

// reindex moves n from its placeholder id to the id the server assigned.
func (m *Manager) reindex(n *Node, id NodeID) {
	delete(m.ids, n.id)
	n.id = id
	m.ids[id] = n.key
}

func (m *Manager) checkLive(n *Node) error {
	if n == nil {
		return ErrForeignNode
	}
	if n.destroyed {
		return fmt.Errorf("%w: %d", ErrNodeDestroyed, n.id)
	}
	if m.nodes[n.key] != n {
		return fmt.Errorf("%w: %d", ErrForeignNode, n.id)
	}
	return nil
}

func (m *Manager) idOf(key NodeKey) NodeID {
	if n, ok := m.nodes[key]; ok {
		return n.id
	}
	return NullID
}

// resolve finds the live node the server is talking about. A node destroyed
// earlier yields (nil, false, nil) so late replies can be skipped.
func (m *Manager) resolve(msgKey string, id NodeID) (*Node, bool, error) {
	if key, ok := m.ids[id]; ok {
		return m.nodes[key], true, nil
	}
	if _, dead := m.tombstones[id]; dead {
		m.logger.Debug("Skipping reply for destroyed node", log.String("key", msgKey), log.Int64("id", int64(id)))
		return nil, false, nil
	}
	return nil, false, &InvariantError{Key: msgKey, ID: id, Err: ErrUnknownNode}
}

// resolveRoot maps a root id from the server to a node key. NullID and
// destroyed roots map to no root.
func (m *Manager) resolveRoot(msgKey string, id NodeID) (NodeKey, error) {
	if id == NullID {
		return noKey, nil
	}
	root, ok, err := m.resolve(msgKey, id)
	if err != nil || !ok {
		return noKey, err
	}
	return root.key, nil
}

func sortNodes(nodes []*Node) []*Node {
	sort.Slice(nodes, func(a, b int) bool { return nodes[a].id < nodes[b].id })
	return nodes
}
