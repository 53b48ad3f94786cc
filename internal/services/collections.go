package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/invoiceflow/internal/broadcast"
	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/persistence"
)

// MaxDocumentsPerCollection keeps the collection, its documents and the
// owning user inside one atomic group.
const MaxDocumentsPerCollection = persistence.MaxGroupSize - 2

// uploadTargetConcurrency bounds concurrent signing calls at creation.
const uploadTargetConcurrency = 10

func validateCreateRequest(req *models.CreateCollectionRequest) error {
	var problems []string
	if strings.TrimSpace(req.UserID) == "" {
		problems = append(problems, "userId is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		problems = append(problems, "name is required")
	}
	switch n := len(req.Documents); {
	case n == 0:
		problems = append(problems, "at least one document is required")
	case n > MaxDocumentsPerCollection:
		problems = append(problems, fmt.Sprintf("at most %d documents are allowed, got %d", MaxDocumentsPerCollection, n))
	}
	for i, d := range req.Documents {
		if strings.TrimSpace(d.Name) == "" || strings.Contains(d.Name, "/") {
			problems = append(problems, fmt.Sprintf("documents[%d].name must be a non-empty file name without '/'", i))
		}
	}
	if len(problems) > 0 {
		return models.NewError(models.CodeInvalidRequest, errors.New(strings.Join(problems, "; ")))
	}
	return nil
}

// CreateCollection persists a new collection with its documents in PENDING,
// issues an upload target per document, opens the collection's status stream
// and announces RECEIVED. An upload target that cannot be issued is recorded
// on that document only.
func (o *Orchestrator) CreateCollection(ctx context.Context, req *models.CreateCollectionRequest) (*models.CreateCollectionResponse, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	now := o.now()
	colID := o.newID()
	tenantID := req.UserID
	logCtx := slog.With("collectionId", colID, "userId", req.UserID)
	logCtx.Info("Creating collection.", "documents", len(req.Documents))

	col := models.Collection{
		ID:        colID,
		Name:      req.Name,
		Type:      req.Type,
		TenantID:  tenantID,
		Status:    models.CollectionReceived,
		Documents: make(map[string]models.DocumentStatus, len(req.Documents)),
		CreatedBy: req.UserID,
		CreatedAt: now,
		UpdatedBy: req.UserID,
		UpdatedAt: now,
	}
	docs := make([]models.Document, len(req.Documents))
	paths := make([]models.ObjectPath, len(req.Documents))
	targets := make([]models.UploadTargetInfo, len(req.Documents))
	for i, d := range req.Documents {
		docID := o.newID()
		paths[i] = models.ObjectPath{TenantID: tenantID, CollectionID: colID, DocumentID: docID, Filename: d.Name}
		docType := d.Type
		if docType == "" {
			docType = req.Type
		}
		docs[i] = models.Document{
			ID:             docID,
			Name:           d.Name,
			Path:           paths[i].String(),
			Type:           docType,
			ContentType:    d.ContentType,
			TenantID:       tenantID,
			CollectionID:   colID,
			Status:         models.DocumentPending,
			StructuredData: models.NewStructuredData(),
			Permissions:    map[string]string{req.UserID: models.RoleOwner},
			CreatedBy:      req.UserID,
			CreatedAt:      now,
			UpdatedBy:      req.UserID,
			UpdatedAt:      now,
		}
		targets[i] = models.UploadTargetInfo{DocumentID: docID, Name: d.Name, Path: paths[i].String(), Status: models.DocumentPending}
		col.Documents[docID] = models.DocumentPending
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(uploadTargetConcurrency)
	for i := range docs {
		eg.Go(func() error {
			url, err := o.blobs.IssueUploadTarget(gctx, paths[i], docs[i].ContentType)
			if err != nil {
				appErr := models.NewError(models.CodeUploadTargetUnavailable, err).ForDocument(docs[i].ID)
				logCtx.Warn("Upload target could not be issued.", "documentId", docs[i].ID, "error", err)
				docs[i].Error = appErr
				targets[i].Error = appErr
				return nil
			}
			targets[i].UploadURL = url
			return nil
		})
	}
	_ = eg.Wait()

	creates := make([]persistence.CreateRequest, 0, len(docs)+2)
	creates = append(creates, persistence.CreateRequest{Ref: collectionRef(colID), Record: col})
	docIDs := make([]any, len(docs))
	for i := range docs {
		creates = append(creates, persistence.CreateRequest{Ref: documentRef(docs[i].ID), Record: docs[i]})
		docIDs[i] = docs[i].ID
	}

	var userUpdate []persistence.UpdateRequest
	var existing models.User
	switch err := o.writer.Get(ctx, userRef(req.UserID), &existing); {
	case errors.Is(err, persistence.ErrNotFound):
		user := models.User{ID: req.UserID, CollectionIDs: []string{colID}, DocumentIDs: make([]string, len(docs)), CreatedAt: now, UpdatedAt: now}
		for i := range docs {
			user.DocumentIDs[i] = docs[i].ID
		}
		creates = append(creates, persistence.CreateRequest{Ref: userRef(req.UserID), Record: user})
	case err != nil:
		return nil, fmt.Errorf("failed to read user %s: %w", req.UserID, err)
	default:
		userUpdate = []persistence.UpdateRequest{{
			Ref: userRef(req.UserID),
			Updates: []persistence.FieldUpdate{
				persistence.ArrayUnion("collectionIds", colID),
				persistence.ArrayUnion("documentIds", docIDs...),
				persistence.Set("updatedAt", now),
			},
		}}
	}

	res, err := o.writer.Create(ctx, creates)
	if err == nil && !res.OK() {
		err = fmt.Errorf("%d of %d records not created: %+v", res.FailureCount, len(creates), res.Failures)
	}
	if err != nil {
		logCtx.Error("Failed to persist collection.", "error", err)
		return nil, &CollectionError{CollectionID: colID, Code: models.CodeCollectionCreation, Result: res, Err: err}
	}
	if userUpdate != nil {
		if err := o.commit(ctx, colID, models.CodeCollectionCreation, userUpdate); err != nil {
			logCtx.Error("Failed to link collection to its owner.", "error", err)
			return nil, err
		}
	}
	o.metrics.CollectionStatus(string(models.CollectionReceived))

	o.events.Open(colID)
	o.publish(models.NewStatusEvent(&col, nil, now))
	logCtx.Info("Collection created.")

	return &models.CreateCollectionResponse{
		CollectionID: colID,
		Status:       col.Status,
		Documents:    targets,
	}, nil
}

// GetCollection returns the stored collection.
func (o *Orchestrator) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	return o.loadCollection(ctx, id)
}

// GetDocument returns the stored document.
func (o *Orchestrator) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return o.loadDocument(ctx, id)
}

// Watch returns the current snapshot of a collection and, while its stream is
// open, a subscription for the events that follow. The subscription is
// attached before the snapshot is read so no event between the two is lost.
// sub is nil when the stream has already completed.
func (o *Orchestrator) Watch(ctx context.Context, id string) (models.StatusEvent, *broadcast.Subscription, error) {
	sub, ok := o.events.Subscribe(id)
	col, err := o.loadCollection(ctx, id)
	if err != nil {
		if ok {
			sub.Cancel()
		}
		return models.StatusEvent{}, nil, err
	}
	if !ok {
		sub = nil
	}
	return models.NewStatusEvent(col, col.Error, o.now()), sub, nil
}

// DeleteCollection marks a collection DELETED, unlinks it from its owner and
// completes its stream. Records are kept. Deleting a deleted collection is a
// no-op.
func (o *Orchestrator) DeleteCollection(ctx context.Context, id, userID string) (*models.Collection, error) {
	col, err := o.loadCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if col.Status == models.CollectionDeleted {
		return col, nil
	}
	if !col.Status.CanTransitionTo(models.CollectionDeleted) {
		return nil, models.NewError(models.CodeInvalidTransition, &models.TransitionError{
			Entity: "collection", ID: id, From: string(col.Status), To: string(models.CollectionDeleted),
		})
	}
	if userID == "" {
		userID = col.CreatedBy
	}

	now := o.now()
	reqs := []persistence.UpdateRequest{{
		Ref: collectionRef(id),
		Updates: []persistence.FieldUpdate{
			persistence.Set("status", models.CollectionDeleted),
			persistence.Set("updatedAt", now),
			persistence.Set("updatedBy", userID),
		},
	}}
	if col.CreatedBy != "" {
		reqs = append(reqs, persistence.UpdateRequest{
			Ref: userRef(col.CreatedBy),
			Updates: []persistence.FieldUpdate{
				persistence.ArrayRemove("collectionIds", id),
				persistence.Set("updatedAt", now),
			},
		})
	}
	if err := o.commit(ctx, id, models.CodeCollectionUpdate, reqs); err != nil {
		o.publishFailure(ctx, id, appErrorOf(err, models.CodeCollectionUpdate))
		return nil, err
	}
	o.metrics.CollectionStatus(string(models.CollectionDeleted))
	slog.Info("Collection deleted.", "collectionId", id, "userId", userID)

	return o.announce(ctx, id, nil)
}
