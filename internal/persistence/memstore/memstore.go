// Package memstore is an in-process persistence.Backend. Records are held as
// JSON-normalised maps so field updates behave like they do against the
// document store: nested keys merge, arrays union, absent records stay absent.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/Lllllllleong/invoiceflow/internal/persistence"
)

// Store is safe for concurrent use. Each Commit is applied under one lock,
// which gives it the same all-or-nothing behaviour as a store transaction.
type Store struct {
	mu      sync.RWMutex
	records map[string]map[string]any
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]map[string]any)}
}

var _ persistence.Backend = (*Store)(nil)

// Get decodes the record at ref into dst.
func (s *Store) Get(_ context.Context, ref persistence.Ref, dst any) error {
	s.mu.RLock()
	rec, ok := s.records[ref.Path()]
	var raw []byte
	var err error
	if ok {
		raw, err = json.Marshal(rec)
	}
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%s: %w", ref.Path(), persistence.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", ref.Path(), err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode record %s: %w", ref.Path(), err)
	}
	return nil
}

// Exists reports, per ref, whether a record is present.
func (s *Store) Exists(_ context.Context, refs []persistence.Ref) ([]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]bool, len(refs))
	for i, ref := range refs {
		_, out[i] = s.records[ref.Path()]
	}
	return out, nil
}

// Commit applies writes atomically: every precondition is checked and every
// value encoded before the first write lands.
func (s *Store) Commit(_ context.Context, writes []persistence.Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]map[string]any, len(writes))
	for _, w := range writes {
		path := w.Ref.Path()
		current, exists := staged[path]
		if !exists {
			current, exists = s.records[path]
			if exists {
				current = deepCopy(current)
			}
		}

		switch w.Kind {
		case persistence.WriteCreate:
			if exists {
				return fmt.Errorf("create %s: record already exists", path)
			}
			rec, err := normalizeMap(w.Record)
			if err != nil {
				return fmt.Errorf("create %s: %w", path, err)
			}
			staged[path] = rec
		case persistence.WriteUpdate:
			if !exists {
				return fmt.Errorf("update %s: %w", path, persistence.ErrNotFound)
			}
			for _, u := range w.Updates {
				if err := apply(current, u); err != nil {
					return fmt.Errorf("update %s at %s: %w", path, u.DotPath(), err)
				}
			}
			staged[path] = current
		default:
			return fmt.Errorf("unknown write kind %d for %s", w.Kind, path)
		}
	}

	for path, rec := range staged {
		s.records[path] = rec
	}
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func apply(rec map[string]any, u persistence.FieldUpdate) error {
	parent := rec
	for _, key := range u.Path[:len(u.Path)-1] {
		next, ok := parent[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			parent[key] = next
		}
		parent = next
	}
	leaf := u.Path[len(u.Path)-1]

	switch u.Op {
	case persistence.OpSet:
		v, err := normalize(u.Value)
		if err != nil {
			return err
		}
		parent[leaf] = v
	case persistence.OpArrayUnion, persistence.OpArrayRemove:
		values, ok := u.Value.([]any)
		if !ok {
			return fmt.Errorf("%s needs []any, got %T", u.Op, u.Value)
		}
		existing, _ := parent[leaf].([]any)
		for _, raw := range values {
			v, err := normalize(raw)
			if err != nil {
				return err
			}
			if u.Op == persistence.OpArrayUnion {
				if !contains(existing, v) {
					existing = append(existing, v)
				}
				continue
			}
			kept := existing[:0:0]
			for _, e := range existing {
				if !reflect.DeepEqual(e, v) {
					kept = append(kept, e)
				}
			}
			existing = kept
		}
		if existing == nil {
			existing = []any{}
		}
		parent[leaf] = existing
	default:
		return fmt.Errorf("unsupported operation %s", u.Op)
	}
	return nil
}

func contains(values []any, v any) bool {
	for _, e := range values {
		if reflect.DeepEqual(e, v) {
			return true
		}
	}
	return false
}

func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}

func normalizeMap(v any) (map[string]any, error) {
	out, err := normalize(v)
	if err != nil {
		return nil, err
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record must encode to an object, got %T", out)
	}
	return m, nil
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
