package scene

import (
	"fmt"
	"sort"

	"github.com/singed/scenelink/internal/core/observability/log"
	"github.com/singed/scenelink/internal/core/value"
)

// ComponentType is a named kind of data attachable to nodes, holding at most
// one instance per node.
type ComponentType struct {
	name    string
	manager *Manager
	hooks   ComponentHooks

	instances map[NodeKey]*ComponentInstance

	// pending request sets
	newInstances       map[NodeKey]*ComponentInstance
	changedInstances   map[NodeKey]*ComponentInstance
	destroyedInstances map[NodeKey]*ComponentInstance

	// ids whose instance was removed; late replies naming them are ignored
	removed map[NodeID]struct{}
}

func newComponentType(name string, m *Manager) *ComponentType {
	return &ComponentType{
		name:               name,
		manager:            m,
		hooks:              BaseComponentHooks{},
		instances:          make(map[NodeKey]*ComponentInstance),
		newInstances:       make(map[NodeKey]*ComponentInstance),
		changedInstances:   make(map[NodeKey]*ComponentInstance),
		destroyedInstances: make(map[NodeKey]*ComponentInstance),
		removed:            make(map[NodeID]struct{}),
	}
}

func (ct *ComponentType) Name() string {
	return ct.name
}

// SetHooks replaces the lifecycle hooks. nil restores the no-op hooks.
func (ct *ComponentType) SetHooks(hooks ComponentHooks) {
	if hooks == nil {
		hooks = BaseComponentHooks{}
	}
	ct.hooks = hooks
}

// Instance returns the live instance attached to n.
func (ct *ComponentType) Instance(n *Node) (*ComponentInstance, bool) {
	inst, ok := ct.instances[n.key]
	if !ok || inst.destroyed {
		return nil, false
	}
	return inst, true
}

// Instances returns every live instance ordered by node id.
func (ct *ComponentType) Instances() []*ComponentInstance {
	out := make([]*ComponentInstance, 0, len(ct.instances))
	for _, inst := range ct.instances {
		if !inst.destroyed {
			out = append(out, inst)
		}
	}
	return ct.sortByNode(out)
}

// RequestNewInstance attaches a new, unloaded instance to n and queues it for
// the next new_component request. The created hook runs immediately; reads
// return defaults and writes are deferred until the server sends the initial
// value.
func (ct *ComponentType) RequestNewInstance(n *Node) (*ComponentInstance, error) {
	if err := ct.manager.checkLive(n); err != nil {
		return nil, err
	}
	if existing, ok := ct.instances[n.key]; ok {
		if existing.destroyed {
			return nil, fmt.Errorf("%w: %s on node %d is awaiting destruction", ErrInstanceExists, ct.name, n.id)
		}
		return nil, fmt.Errorf("%w: %s on node %d", ErrInstanceExists, ct.name, n.id)
	}

	inst := ct.newInstance(n.key)
	ct.instances[n.key] = inst
	ct.newInstances[n.key] = inst

	ct.hooks.InstanceCreated(inst)
	return inst, nil
}

// RequestDestroyInstance destroys the instance attached to n. An instance the
// server has not been told about yet is dropped without a request; otherwise
// destroy_component is sent once the node is real and the instance loaded.
func (ct *ComponentType) RequestDestroyInstance(n *Node) {
	inst, ok := ct.instances[n.key]
	if !ok || inst.destroyed {
		return
	}

	inst.destroyed = true
	delete(ct.changedInstances, n.key)

	if _, unsent := ct.newInstances[n.key]; unsent {
		delete(ct.newInstances, n.key)
		ct.forget(n, inst)
	} else {
		ct.destroyedInstances[n.key] = inst
	}

	ct.hooks.InstanceDestroyed(inst)
}

// dropNode removes n's instance as part of destroying n. The server destroys
// a node's components along with it, so no request is queued.
func (ct *ComponentType) dropNode(n *Node) {
	inst, ok := ct.instances[n.key]
	if !ok {
		return
	}

	alreadyDestroyed := inst.destroyed
	inst.destroyed = true
	delete(ct.newInstances, n.key)
	delete(ct.changedInstances, n.key)
	delete(ct.destroyedInstances, n.key)
	ct.forget(n, inst)

	if !alreadyDestroyed {
		ct.hooks.InstanceDestroyed(inst)
	}
}

func (ct *ComponentType) forget(n *Node, inst *ComponentInstance) {
	delete(ct.instances, n.key)
	inst.deferred = nil
	if n.id != NullID {
		ct.removed[n.id] = struct{}{}
	}
	if n.fakeID != NullID {
		ct.removed[n.fakeID] = struct{}{}
	}
}

func (ct *ComponentType) newInstance(key NodeKey) *ComponentInstance {
	return &ComponentInstance{
		typ:     ct,
		node:    key,
		changed: newDirtyTable[string](),
	}
}

func (ct *ComponentType) sortByNode(insts []*ComponentInstance) []*ComponentInstance {
	sort.Slice(insts, func(a, b int) bool {
		return ct.manager.idOf(insts[a].node) < ct.manager.idOf(insts[b].node)
	})
	return insts
}

// ComponentInstance is one component type's value on one node. The value is
// always a map from property name to property value.
type ComponentInstance struct {
	typ       *ComponentType
	node      NodeKey
	value     value.Value
	loaded    bool
	destroyed bool

	changed  *dirtyTable[string]
	deferred []func(inst *ComponentInstance)
}

func (i *ComponentInstance) Type() *ComponentType { return i.typ }

// Node returns the owning node, or nil once the node has been removed from
// the scene.
func (i *ComponentInstance) Node() *Node {
	return i.typ.manager.nodes[i.node]
}

func (i *ComponentInstance) Loaded() bool { return i.loaded }

func (i *ComponentInstance) Destroyed() bool { return i.destroyed }

// Value returns a copy of the whole value, or def while unloaded.
func (i *ComponentInstance) Value(def value.Value) value.Value {
	if !i.loaded {
		return def
	}
	return i.value.Clone()
}

// ValueAsync calls fn with the value now if loaded, otherwise right after the
// initial value arrives.
func (i *ComponentInstance) ValueAsync(fn func(v value.Value)) {
	if !i.loaded {
		i.deferred = append(i.deferred, func(inst *ComponentInstance) { fn(inst.value.Clone()) })
		return
	}
	fn(i.value.Clone())
}

func (i *ComponentInstance) Property(name string, def value.Value) value.Value {
	return i.SubProperty([]string{name}, def)
}

// SubProperty reads a nested property; def is returned while unloaded or when
// the path does not exist.
func (i *ComponentInstance) SubProperty(path []string, def value.Value) value.Value {
	if !i.loaded {
		return def
	}
	v, ok := i.value.Get(path...)
	if !ok {
		return def
	}
	return v.Clone()
}

func (i *ComponentInstance) PropertyAsync(name string, fn func(v value.Value)) {
	if !i.loaded {
		i.deferred = append(i.deferred, func(inst *ComponentInstance) {
			v, _ := inst.value.Get(name)
			fn(v.Clone())
		})
		return
	}
	v, _ := i.value.Get(name)
	fn(v.Clone())
}

// SetProperty merges v into the named property. Nested maps are merged key by
// key; anything else replaces the old value. If the value changed, the
// property is queued for the next component_property_update request. Writes
// to an unloaded instance are replayed in order once it loads.
func (i *ComponentInstance) SetProperty(name string, v value.Value) {
	if i.destroyed {
		return
	}
	if !i.loaded {
		v = v.Clone()
		i.deferred = append(i.deferred, func(inst *ComponentInstance) { inst.SetProperty(name, v) })
		return
	}

	if i.applyProperty(name, v) {
		i.propertyChanged(name)
	}
}

// SetValue sets every top-level property of v.
func (i *ComponentInstance) SetValue(v value.Value) {
	for _, name := range v.Keys() {
		prop, _ := v.Key(name)
		i.SetProperty(name, prop)
	}
}

// SetSubProperty writes a nested property of a loaded instance. It reports
// false when the instance is not loaded or the path cannot be written.
func (i *ComponentInstance) SetSubProperty(path []string, v value.Value) bool {
	if i.destroyed || !i.loaded || len(path) == 0 {
		return false
	}

	changed := false
	if cur, ok := i.value.Get(path...); ok {
		if cur.Merge(v) {
			changed = true
			if err := i.value.Set(path, cur); err != nil {
				i.typ.manager.logger.Warn("Failed to write sub-property", log.String("type", i.typ.name), log.Strings("path", path), log.Error(err))
				return false
			}
		}
	} else {
		if err := i.value.Set(path, v); err != nil {
			i.typ.manager.logger.Warn("Failed to write sub-property", log.String("type", i.typ.name), log.Strings("path", path), log.Error(err))
			return false
		}
		changed = true
	}

	if changed {
		i.propertyChanged(path[0])
	}
	return true
}

func (i *ComponentInstance) propertyChanged(name string) {
	i.changed.mark(name)
	i.typ.changedInstances[i.node] = i
	i.typ.hooks.InstanceUpdated(i)
}

func (i *ComponentInstance) applyProperty(name string, v value.Value) bool {
	return i.value.Merge(value.Map(map[string]value.Value{name: v}))
}

// load installs the initial value and replays deferred work in the order it
// was queued.
func (i *ComponentInstance) load(v value.Value) {
	if !v.IsMap() {
		v = value.EmptyMap()
	}
	i.value = v
	i.loaded = true

	deferred := i.deferred
	i.deferred = nil
	if i.destroyed {
		return
	}
	for _, fn := range deferred {
		fn(i)
	}
}

// serverSetValue applies the properties of a server reply carried by seq,
// skipping those with a newer local edit in flight.
func (i *ComponentInstance) serverSetValue(seq uint32, v value.Value) bool {
	modified := false
	for _, name := range v.Keys() {
		if !i.changed.accept(name, seq) {
			continue
		}
		prop, _ := v.Key(name)
		if i.applyProperty(name, prop) {
			modified = true
		}
	}
	return modified
}
