// Package persistence executes grouped create and update operations against a
// document store, tolerating per-record failure and reporting the outcome of
// every record.
package persistence

import (
	"context"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// ErrNotFound is returned by Backend.Get when the record does not exist.
var ErrNotFound = models.ErrNotFound

// Ref addresses one record: a collection path plus a record id.
type Ref struct {
	Collection string
	ID         string
}

// Path returns "collection/id".
func (r Ref) Path() string { return r.Collection + "/" + r.ID }

// WriteKind distinguishes create from update writes.
type WriteKind int

const (
	WriteCreate WriteKind = iota
	WriteUpdate
)

// Write is one record-level operation inside a group commit. Updates are
// already flattened: no Merge operations reach a Backend.
type Write struct {
	Kind    WriteKind
	Ref     Ref
	Record  any
	Updates []FieldUpdate
}

// Backend is the document store port. Commit must apply every write in the
// group atomically or none of them.
type Backend interface {
	Get(ctx context.Context, ref Ref, dst any) error
	Exists(ctx context.Context, refs []Ref) ([]bool, error)
	Commit(ctx context.Context, writes []Write) error
}
