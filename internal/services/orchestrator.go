package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/invoiceflow/internal/broadcast"
	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/persistence"
)

// BlobStore issues links for the objects of the uploads bucket.
type BlobStore interface {
	IssueUploadTarget(ctx context.Context, path models.ObjectPath, contentType string) (string, error)
	// IssueDownloadLink returns models.ErrNotFound when the object is missing.
	IssueDownloadLink(ctx context.Context, path models.ObjectPath) (string, error)
}

// WorkQueue hands a task body to an asynchronous worker at endpoint.
type WorkQueue interface {
	Submit(ctx context.Context, endpoint string, body []byte) (string, error)
}

// Broadcaster is the per-collection event stream registry.
type Broadcaster interface {
	Open(collectionID string) *broadcast.Stream
	Subscribe(collectionID string) (*broadcast.Subscription, bool)
	Publish(event models.StatusEvent) broadcast.PublishResult
	Close(collectionID string) bool
}

// Recorder receives pipeline metrics.
type Recorder interface {
	DocumentTransition(from, to string)
	CollectionStatus(status string)
	PublishResult(result string)
	QueueSubmit(duration time.Duration, err error)
	ValidationFindings(errors, warnings int)
}

// nopRecorder discards every observation. It is the Recorder used until
// WithRecorder installs a real one.
type nopRecorder struct{}

func (nopRecorder) DocumentTransition(from, to string) {}

func (nopRecorder) CollectionStatus(status string) {}

func (nopRecorder) PublishResult(result string) {}

func (nopRecorder) QueueSubmit(duration time.Duration, err error) {}

func (nopRecorder) ValidationFindings(errors, warnings int) {}

// OrchestratorConfig holds the addresses the orchestrator hands to workers.
type OrchestratorConfig struct {
	ExtractorEndpoint string
	CallbackURL       string
	Prompt            string
}

// systemActor is recorded in audit fields for pipeline-driven changes.
const systemActor = "system"

// maxSettlePasses bounds the post-write re-read loop that converges the
// collection status under concurrent sibling updates.
const maxSettlePasses = 3

// Orchestrator drives collections and their documents through the pipeline.
// Every step re-reads the collection, persists through the BatchWriter,
// publishes the resulting snapshot and settles the aggregate status.
type Orchestrator struct {
	writer *persistence.BatchWriter
	blobs  BlobStore
	queue  WorkQueue
	events Broadcaster
	config OrchestratorConfig

	metrics Recorder
	now     func() time.Time
	newID   func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.metrics = r
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator replaces the uuid generator used for new records.
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// NewOrchestrator wires the orchestrator to its collaborators.
func NewOrchestrator(writer *persistence.BatchWriter, blobs BlobStore, queue WorkQueue, events Broadcaster, config OrchestratorConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		writer:  writer,
		blobs:   blobs,
		queue:   queue,
		events:  events,
		config:  config,
		metrics: nopRecorder{},
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CollectionError reports a failed commit of collection and document state.
// It matches models.ErrCollectionPersistence with errors.Is.
type CollectionError struct {
	CollectionID string
	Code         models.ErrorCode
	Result       *persistence.Result
	Err          error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collection %s: %s: %v", e.CollectionID, e.Code.Message(), e.Err)
}

func (e *CollectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{models.ErrCollectionPersistence}
	}
	return []error{models.ErrCollectionPersistence, e.Err}
}

// AppError returns the user-facing form of e.
func (e *CollectionError) AppError() *models.AppError {
	return models.NewError(e.Code, e)
}

func collectionRef(id string) persistence.Ref {
	return persistence.Ref{Collection: models.CollectionsPath, ID: id}
}

func documentRef(id string) persistence.Ref {
	return persistence.Ref{Collection: models.DocumentsPath, ID: id}
}

func userRef(id string) persistence.Ref {
	return persistence.Ref{Collection: models.UsersPath, ID: id}
}

func (o *Orchestrator) loadCollection(ctx context.Context, id string) (*models.Collection, error) {
	var c models.Collection
	if err := o.writer.Get(ctx, collectionRef(id), &c); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, models.NewError(models.CodeNotFound, err)
		}
		return nil, fmt.Errorf("failed to read collection %s: %w", id, err)
	}
	if c.Documents == nil {
		c.Documents = map[string]models.DocumentStatus{}
	}
	return &c, nil
}

func (o *Orchestrator) loadDocument(ctx context.Context, id string) (*models.Document, error) {
	var d models.Document
	if err := o.writer.Get(ctx, documentRef(id), &d); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, models.NewError(models.CodeNotFound, err).ForDocument(id)
		}
		return nil, fmt.Errorf("failed to read document %s: %w", id, err)
	}
	return &d, nil
}

// commit applies reqs and turns any unwritten record into a CollectionError.
func (o *Orchestrator) commit(ctx context.Context, collectionID string, code models.ErrorCode, reqs []persistence.UpdateRequest) error {
	res, err := o.writer.Update(ctx, reqs)
	if err != nil {
		return &CollectionError{CollectionID: collectionID, Code: code, Result: res, Err: err}
	}
	if !res.OK() {
		return &CollectionError{
			CollectionID: collectionID,
			Code:         code,
			Result:       res,
			Err:          fmt.Errorf("%d of %d records not written: %+v", res.FailureCount, len(reqs), res.Failures),
		}
	}
	return nil
}

// transitionDocument moves doc to status and persists the document together
// with its entry in the collection's document map and the collection status
// derived from the fresh snapshot. extra carries additional document fields.
func (o *Orchestrator) transitionDocument(ctx context.Context, doc *models.Document, to models.DocumentStatus, appErr *models.AppError, extra ...persistence.FieldUpdate) error {
	from := doc.Status
	if !from.CanTransitionTo(to) {
		return models.NewError(models.CodeInvalidTransition, &models.TransitionError{
			Entity: "document", ID: doc.ID, From: string(from), To: string(to),
		}).ForDocument(doc.ID)
	}

	col, err := o.loadCollection(ctx, doc.CollectionID)
	if err != nil {
		return err
	}
	now := o.now()

	actor := systemActor
	docUpdates := []persistence.FieldUpdate{
		persistence.Set("status", to),
		persistence.Set("updatedAt", now),
	}
	if appErr != nil {
		docUpdates = append(docUpdates, persistence.Set("error", appErr))
	}
	for _, u := range extra {
		if u.DotPath() == "updatedBy" {
			actor, _ = u.Value.(string)
			continue
		}
		docUpdates = append(docUpdates, u)
	}
	docUpdates = append(docUpdates, persistence.Set("updatedBy", actor))

	docs := col.DocumentSnapshot()
	docs[doc.ID] = to
	colUpdates := []persistence.FieldUpdate{
		persistence.SetPath(to, "documents", doc.ID),
		persistence.Set("updatedAt", now),
	}
	derived := models.DeriveCollectionStatus(col.Status, docs)
	if derived != col.Status {
		colUpdates = append(colUpdates, persistence.Set("status", derived))
	}

	if err := o.commit(ctx, col.ID, models.CodeCollectionUpdate, []persistence.UpdateRequest{
		{Ref: documentRef(doc.ID), Updates: docUpdates},
		{Ref: collectionRef(col.ID), Updates: colUpdates},
	}); err != nil {
		return err
	}
	if derived != col.Status {
		o.metrics.CollectionStatus(string(derived))
	}

	doc.Status = to
	doc.UpdatedAt = now
	doc.UpdatedBy = actor
	if appErr != nil {
		doc.Error = appErr
	}
	o.metrics.DocumentTransition(string(from), string(to))
	slog.Info("Document transitioned.", "collectionId", col.ID, "documentId", doc.ID, "from", from, "to", to)
	return nil
}

// settle re-reads the collection after a write and moves its status to the
// one derived from the stored document map, repeating until the stored value
// is stable. It returns the last snapshot read.
func (o *Orchestrator) settle(ctx context.Context, collectionID string) (*models.Collection, error) {
	var col *models.Collection
	for pass := 0; pass < maxSettlePasses; pass++ {
		var err error
		col, err = o.loadCollection(ctx, collectionID)
		if err != nil {
			return nil, err
		}
		derived := models.DeriveCollectionStatus(col.Status, col.Documents)
		if derived == col.Status {
			return col, nil
		}
		if err := o.commit(ctx, collectionID, models.CodeCollectionUpdate, []persistence.UpdateRequest{{
			Ref: collectionRef(collectionID),
			Updates: []persistence.FieldUpdate{
				persistence.Set("status", derived),
				persistence.Set("updatedAt", o.now()),
			},
		}}); err != nil {
			return nil, err
		}
		slog.Info("Collection status changed.", "collectionId", collectionID, "from", col.Status, "to", derived)
		o.metrics.CollectionStatus(string(derived))
	}
	return o.loadCollection(ctx, collectionID)
}

// announce settles the collection, publishes its snapshot and completes the
// stream once every document has left the pipeline.
func (o *Orchestrator) announce(ctx context.Context, collectionID string, appErr *models.AppError) (*models.Collection, error) {
	col, err := o.settle(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	o.publish(models.NewStatusEvent(col, appErr, o.now()))
	if streamFinished(col) && o.events.Close(col.ID) {
		slog.Info("Status stream completed.", "collectionId", col.ID, "status", col.Status)
	}
	return col, nil
}

// streamFinished reports whether no further events are expected: the
// collection was deleted or every document is validated, approved or failed.
func streamFinished(col *models.Collection) bool {
	if col.Status == models.CollectionDeleted {
		return true
	}
	return models.AllDocumentsIn(col.Documents, models.DocumentValidated, models.DocumentApproved, models.DocumentError)
}

// publish delivers event and logs the advisory outcomes. Publish failures are
// never returned to callers.
func (o *Orchestrator) publish(event models.StatusEvent) {
	result := o.events.Publish(event)
	o.metrics.PublishResult(result.String())
	logCtx := slog.With("collectionId", event.ID, "status", event.Status, "result", result.String())
	switch result {
	case broadcast.PublishSuccess:
		logCtx.Debug("Published status event.")
	case broadcast.PublishNoSubscribers, broadcast.PublishClosed:
		logCtx.Debug("Status event not delivered.")
	case broadcast.PublishOverflow:
		logCtx.Warn("Status event dropped for some subscribers.")
	case broadcast.PublishUnknown:
		logCtx.Warn("Status event publish outcome unknown.")
	}
}

// publishFailure broadcasts a FAILED snapshot carrying appErr. The stored
// status is left untouched: the failure may be the store itself.
func (o *Orchestrator) publishFailure(ctx context.Context, collectionID string, appErr *models.AppError) {
	event := models.StatusEvent{ID: collectionID, Status: models.CollectionFailed, Error: appErr, Timestamp: o.now()}
	if col, err := o.loadCollection(ctx, collectionID); err == nil {
		event = models.NewStatusEvent(col, appErr, o.now())
		event.Status = models.CollectionFailed
	}
	o.publish(event)
}

// appErrorOf maps err onto its user-facing form, defaulting to fallback.
func appErrorOf(err error, fallback models.ErrorCode) *models.AppError {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var colErr *CollectionError
	if errors.As(err, &colErr) {
		return colErr.AppError()
	}
	return models.NewError(fallback, err)
}
