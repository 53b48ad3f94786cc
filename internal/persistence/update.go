package persistence

import (
	"fmt"
	"sort"
	"strings"
)

// UpdateOp selects how a FieldUpdate changes its field.
type UpdateOp int

const (
	// OpSet replaces the whole field.
	OpSet UpdateOp = iota
	// OpArrayUnion appends values not already present.
	OpArrayUnion
	// OpArrayRemove removes every occurrence of the values.
	OpArrayRemove
	// OpMerge merges a map into the field key by key, leaving siblings intact.
	OpMerge
)

func (op UpdateOp) String() string {
	switch op {
	case OpSet:
		return "set"
	case OpArrayUnion:
		return "arrayUnion"
	case OpArrayRemove:
		return "arrayRemove"
	case OpMerge:
		return "merge"
	}
	return fmt.Sprintf("UpdateOp(%d)", int(op))
}

// FieldUpdate changes one field of a record. Path is a list of map keys from
// the record root; keys are kept as segments so ids containing dots survive.
type FieldUpdate struct {
	Path  []string
	Op    UpdateOp
	Value any
}

// DotPath renders Path in dot notation for logs and error messages.
func (u FieldUpdate) DotPath() string { return strings.Join(u.Path, ".") }

// Set replaces the field at the dot-separated path.
func Set(path string, value any) FieldUpdate {
	return FieldUpdate{Path: strings.Split(path, "."), Op: OpSet, Value: value}
}

// SetPath is Set with explicit segments.
func SetPath(value any, segments ...string) FieldUpdate {
	return FieldUpdate{Path: segments, Op: OpSet, Value: value}
}

// ArrayUnion adds values to an array field.
func ArrayUnion(path string, values ...any) FieldUpdate {
	return FieldUpdate{Path: strings.Split(path, "."), Op: OpArrayUnion, Value: values}
}

// ArrayRemove removes values from an array field.
func ArrayRemove(path string, values ...any) FieldUpdate {
	return FieldUpdate{Path: strings.Split(path, "."), Op: OpArrayRemove, Value: values}
}

// Merge merges entries into the map field at path.
func Merge(path string, entries map[string]any) FieldUpdate {
	return FieldUpdate{Path: strings.Split(path, "."), Op: OpMerge, Value: entries}
}

// Flatten expands Merge updates into one Set per leaf key. Nested maps are
// walked recursively; keys are visited in sorted order so the output is
// deterministic.
func Flatten(updates []FieldUpdate) ([]FieldUpdate, error) {
	out := make([]FieldUpdate, 0, len(updates))
	for _, u := range updates {
		if len(u.Path) == 0 {
			return nil, fmt.Errorf("field update has an empty path")
		}
		if u.Op != OpMerge {
			out = append(out, u)
			continue
		}
		entries, ok := u.Value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("merge at %q needs map[string]any, got %T", u.DotPath(), u.Value)
		}
		out = flattenInto(out, u.Path, entries)
	}
	return out, nil
}

func flattenInto(out []FieldUpdate, prefix []string, entries map[string]any) []FieldUpdate {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := append(append([]string{}, prefix...), k)
		if nested, ok := entries[k].(map[string]any); ok && len(nested) > 0 {
			out = flattenInto(out, path, nested)
			continue
		}
		out = append(out, FieldUpdate{Path: path, Op: OpSet, Value: entries[k]})
	}
	return out
}
