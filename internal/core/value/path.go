package value

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrPathNotFound = errors.New("property path not found")
	ErrNotContainer = errors.New("value is not a map or list")
)

// Get walks path through nested maps (by key) and lists (by decimal index).
func (v Value) Get(path ...string) (Value, bool) {
	cur := v
	for _, elem := range path {
		next, ok := cur.child(elem)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

func (v Value) child(elem string) (Value, bool) {
	switch v.kind {
	case KindMap:
		return v.Key(elem)
	case KindList:
		i, err := strconv.Atoi(elem)
		if err != nil {
			return Value{}, false
		}
		return v.Index(i)
	default:
		return Value{}, false
	}
}

// Set stores a clone of x at path. Every element but the last must already
// exist; the last may name a new map key. An empty path replaces v itself.
func (v *Value) Set(path []string, x Value) error {
	if len(path) == 0 {
		*v = x.Clone()
		return nil
	}

	parent := v
	for i, elem := range path[:len(path)-1] {
		next, err := parent.childRef(elem)
		if err != nil {
			return fmt.Errorf("set %v at %d: %w", path, i, err)
		}
		parent = next
	}

	last := path[len(path)-1]
	switch parent.kind {
	case KindMap:
		parent.m[last] = x.Clone()
		return nil
	case KindList:
		i, err := strconv.Atoi(last)
		if err != nil || i < 0 || i >= len(parent.list) {
			return fmt.Errorf("set %v: %w", path, ErrPathNotFound)
		}
		parent.list[i] = x.Clone()
		return nil
	default:
		return fmt.Errorf("set %v: %w", path, ErrNotContainer)
	}
}

// childRef returns an addressable child. Map entries are written back through
// the shared backing map, so the returned pointer aliases a copy whose nested
// containers are the same storage.
func (v *Value) childRef(elem string) (*Value, error) {
	switch v.kind {
	case KindMap:
		item, ok := v.m[elem]
		if !ok {
			return nil, ErrPathNotFound
		}
		if item.kind != KindMap && item.kind != KindList {
			return nil, ErrNotContainer
		}
		return &item, nil
	case KindList:
		i, err := strconv.Atoi(elem)
		if err != nil || i < 0 || i >= len(v.list) {
			return nil, ErrPathNotFound
		}
		return &v.list[i], nil
	default:
		return nil, ErrNotContainer
	}
}

// Merge folds src into v and reports whether anything changed. Maps are merged
// key by key (keys missing from v are added); every other kind is compared
// and replaced as a whole.
func (v *Value) Merge(src Value) bool {
	if v.kind == KindMap && src.kind == KindMap {
		changed := false
		for k, item := range src.m {
			cur, ok := v.m[k]
			if !ok {
				v.m[k] = item.Clone()
				changed = true
				continue
			}
			if cur.Merge(item) {
				v.m[k] = cur
				changed = true
			}
		}
		return changed
	}

	if v.Equal(src) {
		return false
	}
	*v = src.Clone()
	return true
}
