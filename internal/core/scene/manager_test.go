package scene

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singed/scenelink/internal/core/observability/log"
	"github.com/singed/scenelink/internal/core/session"
	"github.com/singed/scenelink/internal/core/value"
)

// harness drives a Manager the way a session does, without the socket.
type harness struct {
	m         *Manager
	order     []string
	queries   map[string]session.QueryHandler
	responses map[string]session.ResponseHandler
	seq       uint32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		m:         NewManager(log.NewNop()),
		queries:   make(map[string]session.QueryHandler),
		responses: make(map[string]session.ResponseHandler),
	}
	h.m.Register(h)
	return h
}

func (h *harness) AddQueryHandler(key string, handler session.QueryHandler) {
	if _, ok := h.queries[key]; !ok {
		h.order = append(h.order, key)
	}
	h.queries[key] = handler
}

func (h *harness) AddResponseHandler(key string, handler session.ResponseHandler) {
	h.responses[key] = handler
}

// query builds the next outbound message. The sequence number only advances
// when something is sent.
func (h *harness) query(t *testing.T, priority session.Priority) (uint32, map[string]json.RawMessage) {
	t.Helper()
	seq := h.seq + 1
	msg := make(map[string]json.RawMessage)
	for _, key := range h.order {
		out := h.queries[key](seq, priority)
		if out == nil {
			continue
		}
		raw, err := json.Marshal(out)
		require.NoError(t, err)
		msg[key] = raw
	}
	if len(msg) == 0 {
		return 0, nil
	}
	h.seq = seq
	return seq, msg
}

func (h *harness) respond(t *testing.T, seq uint32, payload string) error {
	t.Helper()
	entries, err := session.DecodePayload([]byte(payload))
	require.NoError(t, err)

	var errs []error
	for _, e := range entries {
		handler, ok := h.responses[e.Key]
		require.True(t, ok, "no handler for %s", e.Key)
		errs = append(errs, handler(seq, e.Value))
	}
	return errors.Join(errs...)
}

func (h *harness) mustRespond(t *testing.T, seq uint32, payload string) {
	t.Helper()
	require.NoError(t, h.respond(t, seq, payload))
}

// loadScene consumes the initial get_scene query and answers it.
func (h *harness) loadScene(t *testing.T, snapshot string) {
	t.Helper()
	seq, msg := h.query(t, session.PriorityAny)
	require.Contains(t, msg, KeyGetScene)
	h.mustRespond(t, seq, `{"get_scene": `+snapshot+`}`)
	require.True(t, h.m.Loaded())
}

func (h *harness) node(t *testing.T, id NodeID) *Node {
	t.Helper()
	n, ok := h.m.Node(id)
	require.True(t, ok, "node %d", id)
	return n
}

type hookLog struct {
	events []string
}

func (l *hookLog) nodeHooks() NodeFuncs {
	return NodeFuncs{
		Created:   func(_ *Manager, n *Node) { l.add("node+", n.ID()) },
		Updated:   func(_ *Manager, n *Node) { l.add("node~", n.ID()) },
		Destroyed: func(_ *Manager, n *Node) { l.add("node-", n.ID()) },
	}
}

func (l *hookLog) componentHooks(m *Manager) ComponentFuncs {
	id := func(inst *ComponentInstance) NodeID {
		return m.idOf(inst.node)
	}
	return ComponentFuncs{
		Created:   func(inst *ComponentInstance) { l.add(inst.Type().Name()+"+", id(inst)) },
		Updated:   func(inst *ComponentInstance) { l.add(inst.Type().Name()+"~", id(inst)) },
		Destroyed: func(inst *ComponentInstance) { l.add(inst.Type().Name()+"-", id(inst)) },
	}
}

func (l *hookLog) add(event string, id NodeID) {
	l.events = append(l.events, event+id.String())
}

func (l *hookLog) reset() {
	l.events = nil
}

const simpleScene = `{
	"next_entity_id": 10,
	"nodes": {
		"1": {"name": "root"},
		"2": {"name": "child", "root": 1, "lpos": [1, 2, 3]},
		"3": {"name": "leaf", "root": 2}
	},
	"components": {
		"sge::CLight": {"2": {"intensity": 1}}
	}
}`

func TestManager_SceneLoad(t *testing.T) {
	h := newHarness(t)
	hooks := &hookLog{}
	h.m.SetNodeHooks(hooks.nodeHooks())
	h.m.SetComponentHooks("sge::CLight", hooks.componentHooks(h.m))

	h.loadScene(t, simpleScene)

	assert.Equal(t, int64(10), h.m.NextEntityID())
	require.Len(t, h.m.Nodes(), 3)

	root, child, leaf := h.node(t, 1), h.node(t, 2), h.node(t, 3)
	assert.Nil(t, h.m.Root(root))
	assert.Same(t, root, h.m.Root(child))
	assert.Same(t, child, h.m.Root(leaf))
	assert.Equal(t, []*Node{child}, h.m.Children(root))
	assert.Equal(t, Vec3{1, 2, 3}, child.Transform.Position)
	assert.Equal(t, IdentityTransform().Rotation, child.Transform.Rotation)

	inst, ok := h.m.ComponentType("sge::CLight").Instance(child)
	require.True(t, ok)
	assert.True(t, inst.Loaded())
	assert.Equal(t, value.Int(1), inst.Property("intensity", value.Null()))

	assert.Equal(t, []string{
		"node+1", "node+2", "node+3",
		"node~1", "node~2", "node~3",
		"sge::CLight+2",
	}, hooks.events)

	// get_scene is only ever requested once
	_, msg := h.query(t, session.PriorityAny)
	assert.NotContains(t, msg, KeyGetScene)
}

func TestManager_NewNodeGetsRealID(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, `{"nodes": {}}`)

	n := h.m.RequestNewNode("payload")
	assert.Equal(t, NodeID(-1), n.ID())
	assert.True(t, n.IsFake())
	assert.Equal(t, "payload", n.UserData)

	seq, msg := h.query(t, session.PriorityHigh)
	require.Contains(t, msg, KeyNewNode)
	assert.JSONEq(t, `{"-1": {"name": ""}}`, string(msg[KeyNewNode]))

	// not resent while in flight
	_, again := h.query(t, session.PriorityAny)
	assert.NotContains(t, again, KeyNewNode)

	h.mustRespond(t, seq, `{"new_node": {"-1": {"id": 42}}}`)

	assert.Equal(t, NodeID(42), n.ID())
	assert.Equal(t, NodeID(-1), n.FakeID())
	assert.True(t, n.IsReal())

	got, ok := h.m.Node(42)
	require.True(t, ok)
	assert.Same(t, n, got)
	_, ok = h.m.Node(-1)
	assert.False(t, ok)
}

func TestManager_FakeIDsDecrease(t *testing.T) {
	h := newHarness(t)
	a := h.m.RequestNewNode(nil)
	b := h.m.RequestNewNode(nil)
	assert.Equal(t, NodeID(-1), a.ID())
	assert.Equal(t, NodeID(-2), b.ID())
}

func TestManager_OmittedPlaceholderIsRequeued(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, `{"nodes": {}}`)

	a := h.m.RequestNewNode(nil)
	b := h.m.RequestNewNode(nil)
	seq, _ := h.query(t, session.PriorityAny)
	h.mustRespond(t, seq, `{"new_node": {"-1": {"id": 7}}}`)

	assert.Equal(t, NodeID(7), a.ID())
	assert.True(t, b.IsFake())

	_, msg := h.query(t, session.PriorityAny)
	assert.JSONEq(t, `{"-2": {"name": ""}}`, string(msg[KeyNewNode]))
}

func TestManager_PushedNewNode(t *testing.T) {
	h := newHarness(t)
	hooks := &hookLog{}
	h.m.SetNodeHooks(hooks.nodeHooks())
	h.loadScene(t, `{"nodes": {"1": {"name": "root"}}}`)
	hooks.reset()

	h.mustRespond(t, 0, `{"new_node": {"5": {"id": 5, "name": "spawned", "root": 1}}}`)

	n := h.node(t, 5)
	assert.Equal(t, "spawned", n.Name)
	assert.Same(t, h.node(t, 1), h.m.Root(n))
	assert.Equal(t, []string{"node+5", "node~5"}, hooks.events)

	// a repeat is ignored
	hooks.reset()
	h.mustRespond(t, 0, `{"new_node": {"5": {"id": 5, "name": "again"}}}`)
	assert.Equal(t, "spawned", n.Name)
	assert.Empty(t, hooks.events)
}

func TestManager_TransformWaitsForAnyPriority(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, simpleScene)

	n := h.node(t, 1)
	tr := IdentityTransform()
	tr.Position = Vec3{4, 5, 6}
	require.NoError(t, h.m.SetLocalTransform(n, tr))
	require.NoError(t, h.m.SetLocalTransform(n, tr))

	_, msg := h.query(t, session.PriorityHigh)
	assert.NotContains(t, msg, KeyNodeLocalTransformUpdate)

	_, msg = h.query(t, session.PriorityAny)
	require.Contains(t, msg, KeyNodeLocalTransformUpdate)
	assert.JSONEq(t, `{"1": {"lpos": [4, 5, 6], "lrot": [0, 0, 0, 1], "lscale": [1, 1, 1]}}`,
		string(msg[KeyNodeLocalTransformUpdate]))

	_, msg = h.query(t, session.PriorityAny)
	assert.NotContains(t, msg, KeyNodeLocalTransformUpdate)
}

func TestManager_SetLocalTransformRejectsNaN(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, simpleScene)

	tr := IdentityTransform()
	tr.Scale[1] = math.NaN()
	assert.ErrorIs(t, h.m.SetLocalTransform(h.node(t, 1), tr), ErrBadTransform)
}

func TestManager_StaleReplyDoesNotOverwriteNewerEdit(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, simpleScene)
	n := h.node(t, 1)

	require.NoError(t, h.m.SetName(n, "first"))
	seq1, msg := h.query(t, session.PriorityAny)
	assert.JSONEq(t, `{"1": "first"}`, string(msg[KeyNodeNameUpdate]))

	require.NoError(t, h.m.SetName(n, "second"))
	seq2, msg := h.query(t, session.PriorityAny)
	assert.JSONEq(t, `{"1": "second"}`, string(msg[KeyNodeNameUpdate]))

	h.mustRespond(t, seq1, `{"node_name_update": {"1": "first"}}`)
	assert.Equal(t, "second", n.Name)

	h.mustRespond(t, seq2, `{"node_name_update": {"1": "second"}}`)
	assert.Equal(t, "second", n.Name)

	// once confirmed, pushes apply again
	h.mustRespond(t, 0, `{"node_name_update": {"1": "third"}}`)
	assert.Equal(t, "third", n.Name)
}

func TestManager_PushOverridesUnsentEdit(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, simpleScene)
	n := h.node(t, 1)

	require.NoError(t, h.m.SetName(n, "local"))
	h.mustRespond(t, 0, `{"node_name_update": {"1": "remote"}}`)

	assert.Equal(t, "remote", n.Name)
	_, msg := h.query(t, session.PriorityAny)
	assert.NotContains(t, msg, KeyNodeNameUpdate)
}

func TestManager_TransformEchoIsIdempotent(t *testing.T) {
	h := newHarness(t)
	hooks := &hookLog{}
	h.m.SetNodeHooks(hooks.nodeHooks())
	h.loadScene(t, simpleScene)
	hooks.reset()

	h.mustRespond(t, 0, `{"node_local_transform_update": {"2": {"lpos": [1, 2, 3]}}}`)
	assert.Empty(t, hooks.events)

	h.mustRespond(t, 0, `{"node_local_transform_update": {"2": {"lscale": [2, 2, 2]}}}`)
	assert.Equal(t, []string{"node~2"}, hooks.events)
	assert.Equal(t, Vec3{2, 2, 2}, h.node(t, 2).Transform.Scale)
	assert.Equal(t, Vec3{1, 2, 3}, h.node(t, 2).Transform.Position)
}

func TestManager_RootUpdates(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, simpleScene)
	root, leaf := h.node(t, 1), h.node(t, 3)

	require.NoError(t, h.m.SetRoot(leaf, root))
	seq, msg := h.query(t, session.PriorityAny)
	assert.JSONEq(t, `{"3": 1}`, string(msg[KeyNodeRootUpdate]))
	h.mustRespond(t, seq, `{"node_root_update": {"3": 1}}`)
	assert.Same(t, root, h.m.Root(leaf))

	h.mustRespond(t, 0, `{"node_root_update": {"3": 0}}`)
	assert.Nil(t, h.m.Root(leaf))

	assert.ErrorIs(t, h.m.SetRoot(root, h.node(t, 2)), ErrRootCycle)
}

func TestManager_DestroyCascade(t *testing.T) {
	h := newHarness(t)
	hooks := &hookLog{}
	h.m.SetNodeHooks(hooks.nodeHooks())
	h.m.SetComponentHooks("sge::CLight", hooks.componentHooks(h.m))
	h.loadScene(t, simpleScene)
	hooks.reset()

	root := h.node(t, 1)
	h.m.RequestDestroyNode(root)

	assert.Equal(t, []string{"node-3", "sge::CLight-2", "node-2", "node-1"}, hooks.events)
	assert.Empty(t, h.m.Nodes())
	assert.True(t, root.Destroyed())

	_, msg := h.query(t, session.PriorityAny)
	assert.JSONEq(t, `[1, 2, 3]`, string(msg[KeyDestroyNode]))

	// the echo finds only tombstones
	hooks.reset()
	h.mustRespond(t, h.seq, `{"destroy_node": [1, 2, 3], "node_name_update": {"2": "late"}}`)
	assert.Empty(t, hooks.events)

	assert.ErrorIs(t, h.m.SetName(root, "x"), ErrNodeDestroyed)
}

func TestManager_ServerDestroyIsNotEchoed(t *testing.T) {
	h := newHarness(t)
	hooks := &hookLog{}
	h.m.SetNodeHooks(hooks.nodeHooks())
	h.loadScene(t, simpleScene)
	hooks.reset()

	h.mustRespond(t, 0, `{"destroy_node": [3]}`)
	assert.Equal(t, []string{"node-3"}, hooks.events)

	_, msg := h.query(t, session.PriorityAny)
	assert.NotContains(t, msg, KeyDestroyNode)
}

func TestManager_DestroyUnsentNodeNeedsNoRequest(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, `{"nodes": {}}`)

	n := h.m.RequestNewNode(nil)
	h.m.RequestDestroyNode(n)

	seq, msg := h.query(t, session.PriorityAny)
	assert.Zero(t, seq)
	assert.Nil(t, msg)
}

func TestManager_DestroyInFlightNodeWaitsForRealID(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, `{"nodes": {}}`)

	n := h.m.RequestNewNode(nil)
	seq, _ := h.query(t, session.PriorityAny)
	h.m.RequestDestroyNode(n)

	_, msg := h.query(t, session.PriorityAny)
	assert.NotContains(t, msg, KeyDestroyNode)

	h.mustRespond(t, seq, `{"new_node": {"-1": {"id": 42}}}`)
	_, ok := h.m.Node(42)
	assert.False(t, ok)

	_, msg = h.query(t, session.PriorityAny)
	assert.JSONEq(t, `[42]`, string(msg[KeyDestroyNode]))
}

func TestManager_UnknownNodeIsInvariantError(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, simpleScene)

	err := h.respond(t, 0, `{"node_name_update": {"99": "ghost"}}`)
	require.Error(t, err)

	var inv *InvariantError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, KeyNodeNameUpdate, inv.Key)
	assert.Equal(t, NodeID(99), inv.ID)
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestManager_UnexpectedNewNodeReply(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, `{"nodes": {}}`)
	h.m.RequestNewNode(nil)
	seq, _ := h.query(t, session.PriorityAny)

	err := h.respond(t, seq, `{"new_node": {"-1": {"id": 3}, "-9": {"id": 4}}}`)
	assert.ErrorIs(t, err, ErrUnexpectedReply)
	assert.True(t, h.node(t, 3).IsReal())
}

func TestManager_ForeignNodeRejected(t *testing.T) {
	h := newHarness(t)
	other := NewManager(log.NewNop())
	n := other.RequestNewNode(nil)

	assert.ErrorIs(t, h.m.MarkNameDirty(n), ErrForeignNode)
	assert.ErrorIs(t, h.m.MarkNameDirty(nil), ErrForeignNode)
}

func TestManager_DeferredSetPropertyReplaysAfterLoad(t *testing.T) {
	h := newHarness(t)
	hooks := &hookLog{}
	h.loadScene(t, simpleScene)
	h.m.SetComponentHooks("sge::CSpin", hooks.componentHooks(h.m))

	n := h.node(t, 3)
	ct := h.m.ComponentType("sge::CSpin")
	inst, err := ct.RequestNewInstance(n)
	require.NoError(t, err)
	assert.False(t, inst.Loaded())

	inst.SetProperty("speed", value.Int(5))
	assert.Equal(t, value.Int(-1), inst.Property("speed", value.Int(-1)))

	var seen value.Value
	inst.PropertyAsync("speed", func(v value.Value) { seen = v })
	assert.True(t, seen.IsNull())

	_, msg := h.query(t, session.PriorityHigh)
	assert.NotContains(t, msg, KeyNewComponent)

	seq, msg := h.query(t, session.PriorityAny)
	assert.JSONEq(t, `{"sge::CSpin": [3]}`, string(msg[KeyNewComponent]))
	assert.NotContains(t, msg, KeyComponentPropertyUpdate)

	h.mustRespond(t, seq, `{"new_component": {"sge::CSpin": {"3": {"speed": 1, "axis": [0, 1, 0]}}}}`)

	assert.True(t, inst.Loaded())
	assert.Equal(t, value.Int(5), inst.Property("speed", value.Null()))
	assert.Equal(t, value.Floats(0, 1, 0), inst.Property("axis", value.Null()))
	assert.Equal(t, value.Int(5), seen)
	assert.Equal(t, []string{"sge::CSpin+3", "sge::CSpin~3"}, hooks.events)

	_, msg = h.query(t, session.PriorityAny)
	assert.JSONEq(t, `{"sge::CSpin": {"3": {"speed": 5}}}`, string(msg[KeyComponentPropertyUpdate]))
}

func TestManager_NewInstanceOnFakeNodeWaits(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, `{"nodes": {}}`)

	n := h.m.RequestNewNode(nil)
	_, err := h.m.ComponentType("sge::CMesh").RequestNewInstance(n)
	require.NoError(t, err)

	seq, msg := h.query(t, session.PriorityAny)
	require.Contains(t, msg, KeyNewNode)
	assert.NotContains(t, msg, KeyNewComponent)

	h.mustRespond(t, seq, `{"new_node": {"-1": {"id": 8}}}`)

	_, msg = h.query(t, session.PriorityAny)
	assert.JSONEq(t, `{"sge::CMesh": [8]}`, string(msg[KeyNewComponent]))
}

func TestManager_DuplicateInstanceRejected(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, simpleScene)

	_, err := h.m.ComponentType("sge::CLight").RequestNewInstance(h.node(t, 2))
	assert.ErrorIs(t, err, ErrInstanceExists)
}

func TestManager_StalePropertyReplyRejected(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, simpleScene)

	inst, ok := h.m.ComponentType("sge::CLight").Instance(h.node(t, 2))
	require.True(t, ok)

	inst.SetProperty("intensity", value.Int(2))
	seq1, _ := h.query(t, session.PriorityAny)
	inst.SetProperty("intensity", value.Int(3))
	seq2, msg := h.query(t, session.PriorityAny)
	assert.JSONEq(t, `{"sge::CLight": {"2": {"intensity": 3}}}`, string(msg[KeyComponentPropertyUpdate]))

	h.mustRespond(t, seq1, `{"component_property_update": {"sge::CLight": {"2": {"intensity": 2, "range": 10}}}}`)
	assert.Equal(t, value.Int(3), inst.Property("intensity", value.Null()))
	assert.Equal(t, value.Int(10), inst.Property("range", value.Null()))

	h.mustRespond(t, seq2, `{"component_property_update": {"sge::CLight": {"2": {"intensity": 3}}}}`)
	h.mustRespond(t, 0, `{"component_property_update": {"sge::CLight": {"2": {"intensity": 4}}}}`)
	assert.Equal(t, value.Int(4), inst.Property("intensity", value.Null()))
}

func TestManager_SetSubProperty(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, `{"nodes": {"1": {}}, "components": {"sge::CMat": {"1": {"color": {"r": 0, "g": 0}}}}}`)

	inst, ok := h.m.ComponentType("sge::CMat").Instance(h.node(t, 1))
	require.True(t, ok)

	assert.True(t, inst.SetSubProperty([]string{"color", "r"}, value.Int(255)))
	assert.Equal(t, value.Int(255), inst.SubProperty([]string{"color", "r"}, value.Null()))

	_, msg := h.query(t, session.PriorityAny)
	assert.JSONEq(t, `{"sge::CMat": {"1": {"color": {"r": 255, "g": 0}}}}`, string(msg[KeyComponentPropertyUpdate]))
}

func TestManager_LocalInstanceDestroy(t *testing.T) {
	h := newHarness(t)
	hooks := &hookLog{}
	h.m.SetComponentHooks("sge::CLight", hooks.componentHooks(h.m))
	h.loadScene(t, simpleScene)
	hooks.reset()

	n := h.node(t, 2)
	ct := h.m.ComponentType("sge::CLight")
	ct.RequestDestroyInstance(n)
	ct.RequestDestroyInstance(n)

	assert.Equal(t, []string{"sge::CLight-2"}, hooks.events)
	_, ok := ct.Instance(n)
	assert.False(t, ok)

	seq, msg := h.query(t, session.PriorityAny)
	assert.JSONEq(t, `{"sge::CLight": [2]}`, string(msg[KeyDestroyComponent]))

	h.mustRespond(t, seq, `{"destroy_component": {"sge::CLight": [2]}}`)
	assert.Equal(t, []string{"sge::CLight-2"}, hooks.events)

	// late property replies for the removed instance are ignored
	h.mustRespond(t, 0, `{"component_property_update": {"sge::CLight": {"2": {"intensity": 9}}}}`)

	inst, err := ct.RequestNewInstance(n)
	require.NoError(t, err)
	assert.False(t, inst.Loaded())
}

func TestManager_UnsentInstanceDestroyNeedsNoRequest(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, simpleScene)

	ct := h.m.ComponentType("sge::CMesh")
	n := h.node(t, 1)
	_, err := ct.RequestNewInstance(n)
	require.NoError(t, err)
	ct.RequestDestroyInstance(n)

	seq, msg := h.query(t, session.PriorityAny)
	assert.Zero(t, seq)
	assert.Nil(t, msg)
}

func TestManager_ServerInstanceDestroy(t *testing.T) {
	h := newHarness(t)
	hooks := &hookLog{}
	h.m.SetComponentHooks("sge::CLight", hooks.componentHooks(h.m))
	h.loadScene(t, simpleScene)
	hooks.reset()

	h.mustRespond(t, 0, `{"destroy_component": {"sge::CLight": [2]}}`)
	assert.Equal(t, []string{"sge::CLight-2"}, hooks.events)

	_, msg := h.query(t, session.PriorityAny)
	assert.NotContains(t, msg, KeyDestroyComponent)

	err := h.respond(t, 0, `{"destroy_component": {"sge::CLight": [3]}}`)
	assert.ErrorIs(t, err, ErrUnknownInstance)
}

func TestManager_PushedInstance(t *testing.T) {
	h := newHarness(t)
	hooks := &hookLog{}
	h.m.SetComponentHooks("sge::CLight", hooks.componentHooks(h.m))
	h.loadScene(t, simpleScene)
	hooks.reset()

	h.mustRespond(t, 0, `{"new_component": {"sge::CLight": {"1": {"intensity": 7}, "2": {"intensity": 1}}}}`)
	assert.Equal(t, []string{"sge::CLight+1"}, hooks.events)

	inst, ok := h.m.ComponentType("sge::CLight").Instance(h.node(t, 1))
	require.True(t, ok)
	assert.Equal(t, value.Int(7), inst.Property("intensity", value.Null()))
}

func TestManager_SaveScene(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, `{"nodes": {}}`)

	assert.ErrorIs(t, h.m.SaveScene("  "), ErrEmptyScenePath)
	require.NoError(t, h.m.SaveScene("levels/a.scene"))

	_, msg := h.query(t, session.PriorityHigh)
	assert.JSONEq(t, `{"path": "levels/a.scene"}`, string(msg[KeySaveScene]))

	_, msg = h.query(t, session.PriorityAny)
	assert.NotContains(t, msg, KeySaveScene)
}

func TestManager_GenerateLightmaps(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, `{"nodes": {}}`)

	assert.ErrorIs(t, h.m.GenerateLightmaps(DefaultLightmapParams()), ErrInvalidLightmapParams)

	params := DefaultLightmapParams()
	params.LightmapPath = "lightmaps/"
	params.NumIndirectSampleSets = 0
	assert.ErrorIs(t, h.m.GenerateLightmaps(params), ErrInvalidLightmapParams)

	params.NumIndirectSampleSets = 32
	require.NoError(t, h.m.GenerateLightmaps(params))

	var elapsed time.Duration
	h.m.SetLightmapsGeneratedFunc(func(d time.Duration) { elapsed = d })

	seq, msg := h.query(t, session.PriorityAny)
	require.Contains(t, msg, KeyGenLightmaps)
	var sent map[string]any
	require.NoError(t, json.Unmarshal(msg[KeyGenLightmaps], &sent))
	assert.Equal(t, "lightmaps/", sent["lightmap_path"])
	assert.Equal(t, float64(32), sent["num_indirect_sample_sets"])
	assert.Equal(t, float64(2), sent["post_process_steps"])

	h.mustRespond(t, seq, `{"gen_lightmaps": 1500}`)
	assert.Equal(t, 1500*time.Millisecond, elapsed)
}

func TestManager_Fingerprint(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, simpleScene)

	before := h.m.Fingerprint()
	assert.Equal(t, before, h.m.Fingerprint())

	require.NoError(t, h.m.SetName(h.node(t, 3), "renamed"))
	assert.NotEqual(t, before, h.m.Fingerprint())
}

func TestManager_Stats(t *testing.T) {
	h := newHarness(t)
	h.loadScene(t, simpleScene)
	h.m.RequestNewNode(nil)
	require.NoError(t, h.m.MarkNameDirty(h.node(t, 1)))

	s := h.m.Stats()
	assert.Equal(t, 4, s.Nodes)
	assert.Equal(t, 1, s.FakeNodes)
	assert.Equal(t, 1, s.UnsentNewNodes)
	assert.Equal(t, 1, s.DirtyNames)
	assert.Equal(t, 1, s.Instances)
}
