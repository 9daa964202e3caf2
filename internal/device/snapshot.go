package device

import (
	"fmt"
	"sync"
)

// Snapshot is a complete point-in-time mapping of every declared property to
// a typed value. Snapshots are immutable once built; a snapshot always holds
// every declared key exactly once.
type Snapshot struct {
	values map[PropKey]any
}

// DefaultSnapshot returns a snapshot of the declared defaults. It is the
// store's initial state, so the first poll cycle diffs against an idle
// powered-off device and fires every action whose property differs.
func DefaultSnapshot() Snapshot {
	values := make(map[PropKey]any, len(AllProps))
	for _, p := range AllProps {
		values[p.Key] = p.Default
	}
	return Snapshot{values: values}
}

// NewSnapshot builds a snapshot from raw per-key values, coercing each value
// into its declared domain. Every declared key must be present.
func NewSnapshot(raw map[PropKey]any) (Snapshot, error) {
	values := make(map[PropKey]any, len(AllProps))
	for _, p := range AllProps {
		rv, ok := raw[p.Key]
		if !ok {
			return Snapshot{}, fmt.Errorf("missing value for property %q", p.Key)
		}
		v, err := coerceValue(p.Kind, rv)
		if err != nil {
			return Snapshot{}, fmt.Errorf("property %q: %w", p.Key, err)
		}
		values[p.Key] = v
	}
	return Snapshot{values: values}, nil
}

// Get returns the value for key. Nullable properties return nil while the
// device has not reported them.
func (s Snapshot) Get(key PropKey) any {
	return s.values[key]
}

// Str returns a string property, or "" if the value is nil.
func (s Snapshot) Str(key PropKey) string {
	v, _ := s.values[key].(string)
	return v
}

// Int returns an integer property and whether it is set.
func (s Snapshot) Int(key PropKey) (int64, bool) {
	v, ok := s.values[key].(int64)
	return v, ok
}

// coerceValue converts a wire value (as decoded from JSON) into the declared
// domain. Numbers arrive as float64 and are narrowed to int64.
func coerceValue(kind PropKind, v any) (any, error) {
	switch kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case KindInt, KindNullableInt:
		if v == nil {
			if kind == KindInt {
				return nil, fmt.Errorf("expected integer, got null")
			}
			return nil, nil
		}
		switch n := v.(type) {
		case float64:
			return int64(n), nil
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", v)
		}
	case KindNullableStr:
		if v == nil {
			return nil, nil
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case KindNullableBool:
		if v == nil {
			return nil, nil
		}
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown property kind %q", kind)
	}
}

// Diff returns the keys whose values differ between two snapshots, in
// declaration order. Comparison is by value; nil equals nil.
func Diff(a, b Snapshot) []PropKey {
	var changed []PropKey
	for _, p := range AllProps {
		if a.values[p.Key] != b.values[p.Key] {
			changed = append(changed, p.Key)
		}
	}
	return changed
}

// Store holds the last-accepted snapshot. The poll loop computes the diff
// against the current snapshot first and only then accepts the new one, so
// one cycle always diffs against a single consistent "previous".
type Store struct {
	mu      sync.RWMutex
	current Snapshot
}

// NewStore returns a store initialized to the default snapshot.
func NewStore() *Store {
	return &Store{current: DefaultSnapshot()}
}

// Current returns the last-accepted snapshot.
func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Accept replaces the current snapshot. A failed fetch never reaches Accept,
// so the store is never partially overwritten.
func (s *Store) Accept(next Snapshot) {
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
}
