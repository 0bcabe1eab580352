package scene

import (
	"errors"
	"fmt"
)

var (
	// Reconciliation errors: the server named something the local graph has
	// never seen. These indicate a protocol mismatch, not a runtime condition.

	ErrUnknownNode     = errors.New("unknown node")
	ErrUnknownInstance = errors.New("unknown component instance")
	ErrUnexpectedReply = errors.New("unexpected reply")

	// Caller errors

	ErrForeignNode    = errors.New("node is not part of this scene")
	ErrNodeDestroyed  = errors.New("node is destroyed")
	ErrInstanceExists = errors.New("component instance already exists")
	ErrRootCycle      = errors.New("root would create a cycle")
	ErrBadTransform   = errors.New("transform has non-finite components")

	// One-shot request errors

	ErrEmptyScenePath        = errors.New("scene path is empty")
	ErrInvalidLightmapParams = errors.New("invalid lightmap parameters")
)

// InvariantError reports a response that references state the local graph
// cannot account for.
type InvariantError struct {
	Key  string // message key
	Type string // component type, if any
	ID   NodeID
	Err  error
}

func (e *InvariantError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: %s on node %d: %v", e.Key, e.Type, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: node %d: %v", e.Key, e.ID, e.Err)
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}
