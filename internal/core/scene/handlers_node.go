package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/singed/scenelink/internal/core/observability/log"
	"github.com/singed/scenelink/internal/core/session"
	"github.com/singed/scenelink/internal/core/value"
)

type rootAssignment struct {
	node *Node
	root NodeID
}

func (m *Manager) sceneQuery(uint32, session.Priority) any {
	if m.sentSceneQuery {
		return nil
	}
	m.sentSceneQuery = true
	return true
}

func (m *Manager) sceneResponse(_ uint32, payload json.RawMessage) error {
	if isNull(payload) {
		return nil
	}

	var snapshot struct {
		NextEntityID int64                             `json:"next_entity_id"`
		Nodes        map[NodeID]json.RawMessage        `json:"nodes"`
		Components   map[string]map[NodeID]value.Value `json:"components"`
	}
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return fmt.Errorf("decode scene: %w", err)
	}
	m.nextEntityID = snapshot.NextEntityID

	var errs []error
	var created, touched []*Node
	var roots []rootAssignment
	for _, id := range sortedIDs(snapshot.Nodes) {
		rec, err := decodeNodeRecord(snapshot.Nodes[id])
		if err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", id, err))
			continue
		}

		n, known := m.Node(id)
		if !known {
			if _, dead := m.tombstones[id]; dead {
				continue
			}
			n = m.insertNode(id)
			created = append(created, n)
		}
		n.Name = rec.Name
		n.Transform = rec.Transform
		touched = append(touched, n)
		roots = append(roots, rootAssignment{node: n, root: rec.Root})
	}
	errs = append(errs, m.assignRoots(KeyGetScene, roots)...)

	var instances []*ComponentInstance
	for _, typeName := range sortedNames(snapshot.Components) {
		ct := m.ComponentType(typeName)
		values := snapshot.Components[typeName]
		for _, id := range sortedIDs(values) {
			n, ok, err := m.resolve(KeyGetScene, id)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !ok {
				continue
			}
			if _, exists := ct.instances[n.key]; exists {
				continue
			}

			inst := ct.newInstance(n.key)
			ct.instances[n.key] = inst
			inst.load(values[id])
			instances = append(instances, inst)
		}
	}

	m.sceneLoaded = true
	m.logger.Info("Scene loaded",
		log.Int("nodes", len(snapshot.Nodes)),
		log.Int("instances", len(instances)),
		log.Int64("next_entity_id", m.nextEntityID),
	)

	for _, n := range created {
		m.nodeHooks.NodeCreated(m, n)
	}
	for _, n := range touched {
		if !n.destroyed {
			m.nodeHooks.NodeUpdated(m, n)
		}
	}
	for _, inst := range instances {
		if !inst.destroyed {
			inst.typ.hooks.InstanceCreated(inst)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) assignRoots(msgKey string, roots []rootAssignment) []error {
	var errs []error
	for _, r := range roots {
		key, err := m.resolveRoot(msgKey, r.root)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.node.root = key
	}
	return errs
}

// newNodeQuery sends every pending placeholder under this sequence number.
// Only the name travels with it; other fields follow through the dirty-field
// requests once the node is real.
func (m *Manager) newNodeQuery(seq uint32, _ session.Priority) any {
	if len(m.unsentNewNodes) == 0 {
		return nil
	}

	batch := make(map[NodeID]*Node, len(m.unsentNewNodes))
	msg := make(map[NodeID]newNodeRequest, len(m.unsentNewNodes))
	for key, n := range m.unsentNewNodes {
		delete(m.unsentNewNodes, key)
		if n.destroyed {
			continue
		}
		batch[n.id] = n
		msg[n.id] = newNodeRequest{Name: n.Name}
	}

	if len(msg) == 0 {
		return nil
	}
	m.sentNewNodes[seq] = batch
	return msg
}

func (m *Manager) newNodeResponse(seq uint32, payload json.RawMessage) error {
	if isNull(payload) {
		return nil
	}

	var entries map[NodeID]json.RawMessage
	if err := json.Unmarshal(payload, &entries); err != nil {
		return fmt.Errorf("decode new_node: %w", err)
	}

	batch, requested := m.sentNewNodes[seq]
	if !requested {
		return m.createPushedNodes(entries)
	}
	delete(m.sentNewNodes, seq)

	var errs []error
	var updated []*Node
	for _, fakeID := range sortedIDs(entries) {
		n, ok := batch[fakeID]
		if !ok {
			errs = append(errs, &InvariantError{Key: KeyNewNode, ID: fakeID, Err: ErrUnexpectedReply})
			continue
		}
		delete(batch, fakeID)

		var reply struct {
			ID NodeID `json:"id"`
		}
		if err := json.Unmarshal(entries[fakeID], &reply); err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", fakeID, err))
			continue
		}
		if !reply.ID.IsReal() {
			errs = append(errs, &InvariantError{Key: KeyNewNode, ID: reply.ID, Err: ErrUnexpectedReply})
			continue
		}

		if n.destroyed {
			// Still needs its real id so the pending destroy_node can name it.
			n.id = reply.ID
			m.tombstones[reply.ID] = struct{}{}
			continue
		}

		m.reindex(n, reply.ID)
		updated = append(updated, n)
		m.logger.Debug("Allocated node id", log.Int64("id", int64(n.id)), log.Int64("fake_id", int64(fakeID)))
	}

	// Placeholders the server skipped are offered again.
	for _, n := range batch {
		if n.destroyed {
			continue
		}
		m.logger.Warn("new_node reply omitted node", log.Int64("fake_id", int64(n.id)), log.Uint32("seq", seq))
		m.unsentNewNodes[n.key] = n
	}

	for _, n := range sortNodes(updated) {
		m.nodeHooks.NodeUpdated(m, n)
	}
	return errors.Join(errs...)
}

// createPushedNodes handles a new_node the client never asked for: nodes
// created on the server side, which arrive already real.
func (m *Manager) createPushedNodes(entries map[NodeID]json.RawMessage) error {
	var errs []error
	var created []*Node
	var roots []rootAssignment

	records := make(map[NodeID]nodeRecord, len(entries))
	for _, key := range sortedIDs(entries) {
		rec, err := decodeNodeRecord(entries[key])
		if err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", key, err))
			continue
		}
		if !rec.ID.IsReal() {
			errs = append(errs, &InvariantError{Key: KeyNewNode, ID: rec.ID, Err: ErrUnexpectedReply})
			continue
		}
		records[rec.ID] = rec
	}

	for _, id := range sortedIDs(records) {
		if _, known := m.ids[id]; known {
			continue
		}
		if _, dead := m.tombstones[id]; dead {
			continue
		}

		rec := records[id]
		n := m.insertNode(id)
		n.Name = rec.Name
		n.Transform = rec.Transform
		created = append(created, n)
		roots = append(roots, rootAssignment{node: n, root: rec.Root})
		m.logger.Info("Received unrequested node", log.Int64("id", int64(id)))
	}
	errs = append(errs, m.assignRoots(KeyNewNode, roots)...)

	for _, n := range created {
		m.nodeHooks.NodeCreated(m, n)
	}
	for _, n := range created {
		m.nodeHooks.NodeUpdated(m, n)
	}
	return errors.Join(errs...)
}

// destroyNodeQuery names destroyed nodes the server knows about. Nodes still
// waiting for their real id stay queued.
func (m *Manager) destroyNodeQuery(uint32, session.Priority) any {
	if len(m.destroyedNodes) == 0 {
		return nil
	}

	var ids []NodeID
	var remaining []*Node
	for _, n := range m.destroyedNodes {
		if n.IsFake() {
			remaining = append(remaining, n)
			continue
		}
		ids = append(ids, n.id)
	}
	m.destroyedNodes = remaining

	if len(ids) == 0 {
		return nil
	}
	return sortNodeIDs(ids)
}

// destroyNodeResponse applies server-side destruction. Echoes of local
// destruction find only tombstones and are skipped.
func (m *Manager) destroyNodeResponse(_ uint32, payload json.RawMessage) error {
	if isNull(payload) {
		return nil
	}

	var ids []NodeID
	if err := json.Unmarshal(payload, &ids); err != nil {
		return fmt.Errorf("decode destroy_node: %w", err)
	}

	var errs []error
	for _, id := range sortNodeIDs(ids) {
		n, ok, err := m.resolve(KeyDestroyNode, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			m.destroyNode(n, false)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) rootUpdateQuery(seq uint32, _ session.Priority) any {
	msg := make(map[NodeID]NodeID)
	for _, key := range m.changedRoots.keys() {
		if !m.changedRoots.isUnsent(key) {
			continue
		}
		n, ok := m.nodes[key]
		if !ok {
			m.changedRoots.remove(key)
			continue
		}
		if n.IsFake() {
			continue
		}

		rootID := NullID
		if root := m.Root(n); root != nil {
			if root.IsFake() {
				continue
			}
			rootID = root.id
		}
		msg[n.id] = rootID
		m.changedRoots.stamp(key, seq)
	}

	if len(msg) == 0 {
		return nil
	}
	return msg
}

func (m *Manager) rootUpdateResponse(seq uint32, payload json.RawMessage) error {
	if isNull(payload) {
		return nil
	}

	var entries map[NodeID]NodeID
	if err := json.Unmarshal(payload, &entries); err != nil {
		return fmt.Errorf("decode node_root_update: %w", err)
	}

	var errs []error
	var updated []*Node
	for _, id := range sortedIDs(entries) {
		n, ok, err := m.resolve(KeyNodeRootUpdate, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok || !m.changedRoots.accept(n.key, seq) {
			continue
		}

		key, err := m.resolveRoot(KeyNodeRootUpdate, entries[id])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if n.root != key {
			n.root = key
			updated = append(updated, n)
		}
	}

	for _, n := range updated {
		m.nodeHooks.NodeUpdated(m, n)
	}
	return errors.Join(errs...)
}

func (m *Manager) nameUpdateQuery(seq uint32, _ session.Priority) any {
	msg := make(map[NodeID]string)
	for _, key := range m.changedNames.keys() {
		if !m.changedNames.isUnsent(key) {
			continue
		}
		n, ok := m.nodes[key]
		if !ok {
			m.changedNames.remove(key)
			continue
		}
		if n.IsFake() {
			continue
		}
		msg[n.id] = n.Name
		m.changedNames.stamp(key, seq)
	}

	if len(msg) == 0 {
		return nil
	}
	return msg
}

func (m *Manager) nameUpdateResponse(seq uint32, payload json.RawMessage) error {
	if isNull(payload) {
		return nil
	}

	var entries map[NodeID]string
	if err := json.Unmarshal(payload, &entries); err != nil {
		return fmt.Errorf("decode node_name_update: %w", err)
	}

	var errs []error
	var updated []*Node
	for _, id := range sortedIDs(entries) {
		n, ok, err := m.resolve(KeyNodeNameUpdate, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok || !m.changedNames.accept(n.key, seq) {
			continue
		}
		if n.Name != entries[id] {
			n.Name = entries[id]
			updated = append(updated, n)
		}
	}

	for _, n := range updated {
		m.nodeHooks.NodeUpdated(m, n)
	}
	return errors.Join(errs...)
}

// transformUpdateQuery only runs at PriorityAny; transforms change
// continuously while the user drags and may lag behind other edits.
func (m *Manager) transformUpdateQuery(seq uint32, priority session.Priority) any {
	if !priority.Admits(session.PriorityAny) || m.changedTransforms.len() == 0 {
		return nil
	}

	msg := make(map[NodeID]Transform)
	for _, key := range m.changedTransforms.keys() {
		if !m.changedTransforms.isUnsent(key) {
			continue
		}
		n, ok := m.nodes[key]
		if !ok {
			m.changedTransforms.remove(key)
			continue
		}
		if n.IsFake() {
			continue
		}
		msg[n.id] = n.Transform
		m.changedTransforms.stamp(key, seq)
	}

	if len(msg) == 0 {
		return nil
	}
	return msg
}

func (m *Manager) transformUpdateResponse(seq uint32, payload json.RawMessage) error {
	if isNull(payload) {
		return nil
	}

	var entries map[NodeID]json.RawMessage
	if err := json.Unmarshal(payload, &entries); err != nil {
		return fmt.Errorf("decode node_local_transform_update: %w", err)
	}

	var errs []error
	var updated []*Node
	for _, id := range sortedIDs(entries) {
		n, ok, err := m.resolve(KeyNodeLocalTransformUpdate, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}

		t := n.Transform
		if err := json.Unmarshal(entries[id], &t); err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", id, err))
			continue
		}
		if !m.changedTransforms.accept(n.key, seq) {
			continue
		}
		if t != n.Transform {
			n.Transform = t
			updated = append(updated, n)
		}
	}

	for _, n := range updated {
		m.nodeHooks.NodeUpdated(m, n)
	}
	return errors.Join(errs...)
}

func sortNodeIDs(ids []NodeID) []NodeID {
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}
