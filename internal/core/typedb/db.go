// Package typedb turns type descriptors streamed from the server into
// constructed type objects, resolving property types first.
package typedb

import (
	"errors"
	"fmt"
	"sort"

	"github.com/singed/scenelink/internal/core/observability/log"
)

var (
	ErrUnresolvedDependency = errors.New("unresolved type dependency")
	ErrMissingPropertyType  = errors.New("property has no type")
)

// Constructor builds the object for a type whose dependencies are all
// constructed.
type Constructor func(db *DB, name string, desc Descriptor) (any, error)

// ComponentConstructor runs after Constructor for component types.
type ComponentConstructor func(db *DB, name string, obj any) error

type waitingType struct {
	desc      Descriptor
	remaining map[string]struct{}
}

// DB is not safe for concurrent use; it belongs to the goroutine that cycles
// the session.
type DB struct {
	constructType      Constructor
	constructComponent ComponentConstructor
	logger             log.Log

	types          map[string]any
	waiting        map[string]*waitingType
	pending        map[string]struct{}
	componentTypes map[string]struct{}
	inProgress     map[string]struct{}

	queriedComponentTypes bool
}

// New creates a DB. A nil constructType selects BuildType; a nil
// constructComponent is a no-op.
func New(constructType Constructor, constructComponent ComponentConstructor, logger log.Log) *DB {
	if constructType == nil {
		constructType = BuildType
	}
	return &DB{
		constructType:      constructType,
		constructComponent: constructComponent,
		logger:             logger.With(log.String("component", "typedb")),
		types:              make(map[string]any),
		waiting:            make(map[string]*waitingType),
		pending:            make(map[string]struct{}),
		componentTypes:     make(map[string]struct{}),
		inProgress:         make(map[string]struct{}),
	}
}

// InsertType registers a pre-built type.
func (db *DB) InsertType(name string, obj any) {
	db.types[name] = obj
	delete(db.pending, name)
}

// GetType returns the constructed type. An unknown name is recorded as
// pending so the next get_type_info query asks the server for it.
func (db *DB) GetType(name string) (any, bool) {
	if obj, ok := db.types[name]; ok {
		return obj, true
	}
	db.pending[name] = struct{}{}
	return nil, false
}

// Types returns the names of every constructed type, sorted.
func (db *DB) Types() []string {
	return sortedKeys(db.types)
}

// Pending returns the names waiting to be requested, sorted.
func (db *DB) Pending() []string {
	return sortedKeys(db.pending)
}

// Waiting returns the names with a descriptor but unconstructed dependencies.
func (db *DB) Waiting() []string {
	return sortedKeys(db.waiting)
}

// ComponentTypes returns the names the server reported as components.
func (db *DB) ComponentTypes() []string {
	return sortedKeys(db.componentTypes)
}

// MarkComponent flags name as a component type.
func (db *DB) MarkComponent(name string) {
	db.componentTypes[name] = struct{}{}
}

// OnTypeDescriptorsReceived records every descriptor's dependencies, then
// attempts construction of every type still waiting, so forward references
// from earlier batches resolve as soon as their targets arrive.
func (db *DB) OnTypeDescriptorsReceived(descs Descriptors) error {
	for _, nd := range descs {
		if _, done := db.types[nd.Name]; done {
			db.logger.Debug("Ignoring descriptor for constructed type", log.String("type", nd.Name))
			continue
		}

		remaining := make(map[string]struct{}, len(nd.Descriptor.Properties))
		for _, dep := range nd.Descriptor.Dependencies() {
			remaining[dep] = struct{}{}
		}
		if nd.Descriptor.Component {
			db.componentTypes[nd.Name] = struct{}{}
		}
		db.waiting[nd.Name] = &waitingType{desc: nd.Descriptor, remaining: remaining}
		delete(db.pending, nd.Name)
	}

	var errs []error
	for _, name := range db.Waiting() {
		if _, err := db.ConstructType(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConstructType constructs name if every type it depends on can be
// constructed. Results are memoized; a type that is part of a dependency
// cycle stays waiting.
func (db *DB) ConstructType(name string) (bool, error) {
	if _, ok := db.types[name]; ok {
		return true, nil
	}

	w, ok := db.waiting[name]
	if !ok {
		db.pending[name] = struct{}{}
		return false, nil
	}

	if _, busy := db.inProgress[name]; busy {
		db.logger.Warn("Dependency cycle between types", log.String("type", name))
		return false, nil
	}
	db.inProgress[name] = struct{}{}
	defer delete(db.inProgress, name)

	var errs []error
	for _, dep := range sortedKeys(w.remaining) {
		done, err := db.ConstructType(dep)
		if err != nil {
			errs = append(errs, err)
		}
		if done {
			delete(w.remaining, dep)
		}
	}
	if len(w.remaining) > 0 {
		return false, errors.Join(errs...)
	}

	obj, err := db.constructType(db, name, w.desc)
	if err != nil {
		delete(db.waiting, name)
		db.logger.Error("Failed to construct type", log.String("type", name), log.Error(err))
		return false, fmt.Errorf("construct %s: %w", name, err)
	}

	db.InsertType(name, obj)
	delete(db.waiting, name)
	db.logger.Debug("Type constructed", log.String("type", name))

	if _, isComponent := db.componentTypes[name]; isComponent && db.constructComponent != nil {
		if err := db.constructComponent(db, name, obj); err != nil {
			return true, fmt.Errorf("construct component %s: %w", name, err)
		}
	}
	return true, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
