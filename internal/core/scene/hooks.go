package scene

// NodeHooks receives node lifecycle notifications. All calls happen on the
// goroutine that cycles the session.
type NodeHooks interface {
	NodeCreated(m *Manager, n *Node)
	NodeUpdated(m *Manager, n *Node)
	NodeDestroyed(m *Manager, n *Node)
}

// ComponentHooks receives lifecycle notifications for one component type.
type ComponentHooks interface {
	InstanceCreated(inst *ComponentInstance)
	InstanceUpdated(inst *ComponentInstance)
	InstanceDestroyed(inst *ComponentInstance)
}

// BaseNodeHooks ignores every notification. Embed it to implement only some.
type BaseNodeHooks struct{}

func (BaseNodeHooks) NodeCreated(*Manager, *Node)   {}
func (BaseNodeHooks) NodeUpdated(*Manager, *Node)   {}
func (BaseNodeHooks) NodeDestroyed(*Manager, *Node) {}

// BaseComponentHooks ignores every notification.
type BaseComponentHooks struct{}

func (BaseComponentHooks) InstanceCreated(*ComponentInstance)   {}
func (BaseComponentHooks) InstanceUpdated(*ComponentInstance)   {}
func (BaseComponentHooks) InstanceDestroyed(*ComponentInstance) {}

// NodeFuncs adapts plain functions to NodeHooks. Nil fields are skipped.
type NodeFuncs struct {
	Created   func(m *Manager, n *Node)
	Updated   func(m *Manager, n *Node)
	Destroyed func(m *Manager, n *Node)
}

func (f NodeFuncs) NodeCreated(m *Manager, n *Node) {
	if f.Created != nil {
		f.Created(m, n)
	}
}

func (f NodeFuncs) NodeUpdated(m *Manager, n *Node) {
	if f.Updated != nil {
		f.Updated(m, n)
	}
}

func (f NodeFuncs) NodeDestroyed(m *Manager, n *Node) {
	if f.Destroyed != nil {
		f.Destroyed(m, n)
	}
}

// ComponentFuncs adapts plain functions to ComponentHooks.
type ComponentFuncs struct {
	Created   func(inst *ComponentInstance)
	Updated   func(inst *ComponentInstance)
	Destroyed func(inst *ComponentInstance)
}

func (f ComponentFuncs) InstanceCreated(inst *ComponentInstance) {
	if f.Created != nil {
		f.Created(inst)
	}
}

func (f ComponentFuncs) InstanceUpdated(inst *ComponentInstance) {
	if f.Updated != nil {
		f.Updated(inst)
	}
}

func (f ComponentFuncs) InstanceDestroyed(inst *ComponentInstance) {
	if f.Destroyed != nil {
		f.Destroyed(inst)
	}
}
