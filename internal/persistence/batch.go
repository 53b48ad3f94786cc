package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// MaxGroupSize is the largest number of writes a store accepts in one atomic
// commit.
const MaxGroupSize = 500

// Failure reasons reported per record.
const (
	ReasonNotFound      = "not found"
	ReasonAlreadyExists = "already exists"
	ReasonEmptyRecord   = "empty record"
	ReasonNoUpdates     = "no fields to update"
	ReasonDuplicate     = "duplicate record in request"
	ReasonInvalidUpdate = "invalid update"
)

// ErrGroupCommit marks a group whose commit failed as a whole. The outcome of
// the writes in that group is unknown.
var ErrGroupCommit = errors.New("group commit failed")

// CreateRequest creates Record at Ref.
type CreateRequest struct {
	Ref    Ref
	Record any
}

// UpdateRequest applies Updates to the existing record at Ref.
type UpdateRequest struct {
	Ref     Ref
	Updates []FieldUpdate
}

// Failure describes one record that was not written.
type Failure struct {
	Path   string `json:"path"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// CreatedRecord is a record written by a create call.
type CreatedRecord struct {
	Ref    Ref `json:"-"`
	Record any `json:"record"`
}

// Result reports the per-record outcome of a batch call.
type Result struct {
	SuccessCount   int             `json:"successCount"`
	FailureCount   int             `json:"failureCount"`
	Failures       []Failure       `json:"failures"`
	CreatedRecords []CreatedRecord `json:"createdRecords,omitempty"`
}

// OK reports whether every record was written.
func (r *Result) OK() bool { return r.FailureCount == 0 }

func (r *Result) fail(ref Ref, reason string) {
	r.FailureCount++
	r.Failures = append(r.Failures, Failure{Path: ref.Collection, ID: ref.ID, Reason: reason})
}

func (r *Result) merge(other *Result) {
	r.SuccessCount += other.SuccessCount
	r.FailureCount += other.FailureCount
	r.Failures = append(r.Failures, other.Failures...)
	r.CreatedRecords = append(r.CreatedRecords, other.CreatedRecords...)
}

// GroupError reports a failed group commit. Result holds everything settled
// before the failing group; records of the failing group and any later group
// are not counted.
type GroupError struct {
	Group  int
	Size   int
	Result *Result
	Err    error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("%v: group %d (%d records): %v", ErrGroupCommit, e.Group, e.Size, e.Err)
}

func (e *GroupError) Unwrap() []error { return []error{ErrGroupCommit, e.Err} }

// Recorder observes batch outcomes. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ObserveBatch(op string, result *Result)
}

// BatchWriter chunks record operations into bounded groups and commits each
// group atomically. It never retries; retry policy belongs to the caller.
type BatchWriter struct {
	backend   Backend
	groupSize int
	recorder  Recorder
}

// Option configures a BatchWriter.
type Option func(*BatchWriter)

// WithGroupSize lowers the group size. Values outside (0, MaxGroupSize] are
// ignored.
func WithGroupSize(n int) Option {
	return func(w *BatchWriter) {
		if n > 0 && n <= MaxGroupSize {
			w.groupSize = n
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(w *BatchWriter) { w.recorder = r }
}

// NewBatchWriter creates a BatchWriter over backend.
func NewBatchWriter(backend Backend, opts ...Option) *BatchWriter {
	w := &BatchWriter{backend: backend, groupSize: MaxGroupSize}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Get reads one record into dst.
func (w *BatchWriter) Get(ctx context.Context, ref Ref, dst any) error {
	return w.backend.Get(ctx, ref, dst)
}

// Create writes new records. A record whose ref already exists, is nil, or is
// repeated within reqs is reported as a failure; the rest of its group is
// still committed.
func (w *BatchWriter) Create(ctx context.Context, reqs []CreateRequest) (*Result, error) {
	total := &Result{Failures: []Failure{}}
	for start, group := 0, 0; start < len(reqs); start, group = start+w.groupSize, group+1 {
		end := min(start+w.groupSize, len(reqs))
		res, err := w.createGroup(ctx, reqs[start:end])
		if err != nil {
			w.observe("create", total)
			return total, &GroupError{Group: group, Size: end - start, Result: total, Err: err}
		}
		total.merge(res)
	}
	w.observe("create", total)
	return total, nil
}

func (w *BatchWriter) createGroup(ctx context.Context, reqs []CreateRequest) (*Result, error) {
	res := &Result{}
	refs := make([]Ref, len(reqs))
	for i, req := range reqs {
		refs[i] = req.Ref
	}
	exists, err := w.backend.Exists(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing records: %w", err)
	}

	seen := make(map[string]bool, len(reqs))
	writes := make([]Write, 0, len(reqs))
	accepted := make([]CreateRequest, 0, len(reqs))
	for i, req := range reqs {
		switch {
		case req.Record == nil:
			res.fail(req.Ref, ReasonEmptyRecord)
		case seen[req.Ref.Path()]:
			res.fail(req.Ref, ReasonDuplicate)
		case exists[i]:
			res.fail(req.Ref, ReasonAlreadyExists)
		default:
			seen[req.Ref.Path()] = true
			writes = append(writes, Write{Kind: WriteCreate, Ref: req.Ref, Record: req.Record})
			accepted = append(accepted, req)
		}
	}

	if len(writes) > 0 {
		if err := w.backend.Commit(ctx, writes); err != nil {
			return nil, err
		}
	}
	res.SuccessCount = len(accepted)
	for _, req := range accepted {
		res.CreatedRecords = append(res.CreatedRecords, CreatedRecord{Ref: req.Ref, Record: req.Record})
	}
	return res, nil
}

// Update applies field updates to existing records. Missing targets are
// reported as "not found" rather than returned as errors.
func (w *BatchWriter) Update(ctx context.Context, reqs []UpdateRequest) (*Result, error) {
	total := &Result{Failures: []Failure{}}
	for start, group := 0, 0; start < len(reqs); start, group = start+w.groupSize, group+1 {
		end := min(start+w.groupSize, len(reqs))
		res, err := w.updateGroup(ctx, reqs[start:end])
		if err != nil {
			w.observe("update", total)
			return total, &GroupError{Group: group, Size: end - start, Result: total, Err: err}
		}
		total.merge(res)
	}
	w.observe("update", total)
	return total, nil
}

func (w *BatchWriter) updateGroup(ctx context.Context, reqs []UpdateRequest) (*Result, error) {
	res := &Result{}
	refs := make([]Ref, len(reqs))
	for i, req := range reqs {
		refs[i] = req.Ref
	}
	exists, err := w.backend.Exists(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to check target records: %w", err)
	}

	seen := make(map[string]bool, len(reqs))
	writes := make([]Write, 0, len(reqs))
	for i, req := range reqs {
		if len(req.Updates) == 0 {
			res.fail(req.Ref, ReasonNoUpdates)
			continue
		}
		if seen[req.Ref.Path()] {
			res.fail(req.Ref, ReasonDuplicate)
			continue
		}
		if !exists[i] {
			res.fail(req.Ref, ReasonNotFound)
			continue
		}
		flat, err := Flatten(req.Updates)
		if err != nil {
			slog.Warn("Rejected field update.", "path", req.Ref.Path(), "error", err)
			res.fail(req.Ref, ReasonInvalidUpdate)
			continue
		}
		seen[req.Ref.Path()] = true
		writes = append(writes, Write{Kind: WriteUpdate, Ref: req.Ref, Updates: flat})
	}

	if len(writes) > 0 {
		if err := w.backend.Commit(ctx, writes); err != nil {
			return nil, err
		}
	}
	res.SuccessCount = len(writes)
	return res, nil
}

func (w *BatchWriter) observe(op string, res *Result) {
	if w.recorder != nil {
		w.recorder.ObserveBatch(op, res)
	}
}
