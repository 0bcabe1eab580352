package scene

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/singed/scenelink/internal/core/observability/log"
	"github.com/singed/scenelink/internal/core/session"
	"github.com/singed/scenelink/internal/core/value"
)

// newComponentQuery requests instances on real nodes. Like transforms it
// waits for a PriorityAny cycle.
func (m *Manager) newComponentQuery(_ uint32, priority session.Priority) any {
	if !priority.Admits(session.PriorityAny) {
		return nil
	}

	msg := make(map[string][]NodeID)
	for _, name := range m.ComponentTypes() {
		ct := m.components[name]

		var ids []NodeID
		for key, inst := range ct.newInstances {
			n, ok := m.nodes[key]
			if !ok || inst.destroyed {
				delete(ct.newInstances, key)
				continue
			}
			if n.IsFake() {
				continue
			}
			ids = append(ids, n.id)
			delete(ct.newInstances, key)
		}

		if len(ids) > 0 {
			msg[name] = sortNodeIDs(ids)
		}
	}

	if len(msg) == 0 {
		return nil
	}
	return msg
}

func (m *Manager) newComponentResponse(seq uint32, payload json.RawMessage) error {
	if isNull(payload) {
		return nil
	}

	var types map[string]map[NodeID]value.Value
	if err := json.Unmarshal(payload, &types); err != nil {
		return fmt.Errorf("decode new_component: %w", err)
	}

	var errs []error
	for _, typeName := range sortedNames(types) {
		ct := m.ComponentType(typeName)
		values := types[typeName]

		var created, updated []*ComponentInstance
		for _, id := range sortedIDs(values) {
			n, ok, err := m.resolve(KeyNewComponent, id)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !ok {
				continue
			}

			inst, exists := ct.instances[n.key]
			switch {
			case !exists:
				inst = ct.newInstance(n.key)
				ct.instances[n.key] = inst
				inst.load(values[id])
				created = append(created, inst)
			case !inst.loaded:
				inst.load(values[id])
			case inst.destroyed:
				continue
			default:
				if inst.serverSetValue(seq, values[id]) {
					updated = append(updated, inst)
				}
			}
		}

		for _, inst := range created {
			ct.hooks.InstanceCreated(inst)
		}
		for _, inst := range updated {
			ct.hooks.InstanceUpdated(inst)
		}
	}
	return errors.Join(errs...)
}

// destroyComponentQuery names destroyed instances the server can resolve:
// the node must be real and the instance loaded.
func (m *Manager) destroyComponentQuery(uint32, session.Priority) any {
	msg := make(map[string][]NodeID)
	for _, name := range m.ComponentTypes() {
		ct := m.components[name]

		var ids []NodeID
		for key, inst := range ct.destroyedInstances {
			n, ok := m.nodes[key]
			if !ok {
				delete(ct.destroyedInstances, key)
				continue
			}
			if n.IsFake() || !inst.loaded {
				continue
			}
			ids = append(ids, n.id)
			delete(ct.destroyedInstances, key)
		}

		if len(ids) > 0 {
			msg[name] = sortNodeIDs(ids)
		}
	}

	if len(msg) == 0 {
		return nil
	}
	return msg
}

// destroyComponentResponse confirms local destruction and applies
// destruction started on the server. Destroy hooks for local destruction
// already ran at request time.
func (m *Manager) destroyComponentResponse(_ uint32, payload json.RawMessage) error {
	if isNull(payload) {
		return nil
	}

	var types map[string][]NodeID
	if err := json.Unmarshal(payload, &types); err != nil {
		return fmt.Errorf("decode destroy_component: %w", err)
	}

	var errs []error
	for _, typeName := range sortedNames(types) {
		ct, ok := m.components[typeName]
		if !ok {
			errs = append(errs, &InvariantError{Key: KeyDestroyComponent, Type: typeName, Err: ErrUnknownInstance})
			continue
		}

		var destroyed []*ComponentInstance
		for _, id := range sortNodeIDs(types[typeName]) {
			n, ok, err := m.resolve(KeyDestroyComponent, id)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !ok {
				continue
			}

			inst, err := ct.lookup(KeyDestroyComponent, n)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if inst == nil {
				continue
			}

			if inst.destroyed {
				delete(ct.destroyedInstances, n.key)
				ct.forget(n, inst)
				continue
			}

			inst.destroyed = true
			delete(ct.newInstances, n.key)
			delete(ct.changedInstances, n.key)
			ct.forget(n, inst)
			destroyed = append(destroyed, inst)
		}

		for _, inst := range destroyed {
			ct.hooks.InstanceDestroyed(inst)
		}
	}
	return errors.Join(errs...)
}

// propertyUpdateQuery sends every property changed since it was last sent.
// Properties already in flight wait for their confirmation.
func (m *Manager) propertyUpdateQuery(seq uint32, _ session.Priority) any {
	msg := make(map[string]map[NodeID]map[string]value.Value)
	for _, name := range m.ComponentTypes() {
		ct := m.components[name]

		updates := make(map[NodeID]map[string]value.Value)
		for key, inst := range ct.changedInstances {
			n, ok := m.nodes[key]
			if !ok || inst.destroyed {
				delete(ct.changedInstances, key)
				continue
			}
			if n.IsFake() || !inst.loaded {
				continue
			}

			props := make(map[string]value.Value)
			for _, prop := range inst.changed.keys() {
				if !inst.changed.isUnsent(prop) {
					continue
				}
				v, ok := inst.value.Key(prop)
				if !ok {
					inst.changed.remove(prop)
					continue
				}
				props[prop] = v.Clone()
				inst.changed.stamp(prop, seq)
			}
			delete(ct.changedInstances, key)

			if len(props) > 0 {
				updates[n.id] = props
			}
		}

		if len(updates) > 0 {
			msg[name] = updates
		}
	}

	if len(msg) == 0 {
		return nil
	}
	return msg
}

func (m *Manager) propertyUpdateResponse(seq uint32, payload json.RawMessage) error {
	if isNull(payload) {
		return nil
	}

	var types map[string]map[NodeID]value.Value
	if err := json.Unmarshal(payload, &types); err != nil {
		return fmt.Errorf("decode component_property_update: %w", err)
	}

	var errs []error
	for _, typeName := range sortedNames(types) {
		ct, ok := m.components[typeName]
		if !ok {
			errs = append(errs, &InvariantError{Key: KeyComponentPropertyUpdate, Type: typeName, Err: ErrUnknownInstance})
			continue
		}

		var updated []*ComponentInstance
		values := types[typeName]
		for _, id := range sortedIDs(values) {
			n, ok, err := m.resolve(KeyComponentPropertyUpdate, id)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !ok {
				continue
			}

			inst, err := ct.lookup(KeyComponentPropertyUpdate, n)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if inst == nil || inst.destroyed {
				continue
			}
			if !inst.loaded {
				m.logger.Debug("Skipping property update for unloaded instance",
					log.String("type", typeName), log.Int64("id", int64(id)))
				continue
			}

			if inst.serverSetValue(seq, values[id]) {
				updated = append(updated, inst)
			}
		}

		for _, inst := range updated {
			ct.hooks.InstanceUpdated(inst)
		}
	}
	return errors.Join(errs...)
}

// lookup returns n's instance. A nil instance with a nil error means it was
// removed earlier and the reply is late.
func (ct *ComponentType) lookup(msgKey string, n *Node) (*ComponentInstance, error) {
	if inst, ok := ct.instances[n.key]; ok {
		return inst, nil
	}
	if _, gone := ct.removed[n.id]; gone {
		return nil, nil
	}
	return nil, &InvariantError{Key: msgKey, Type: ct.name, ID: n.id, Err: ErrUnknownInstance}
}
