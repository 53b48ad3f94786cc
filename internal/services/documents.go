package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/persistence"
	"github.com/Lllllllleong/invoiceflow/internal/validation"
)

// MetadataPageCount is the callback metadata key carrying the source page count.
const MetadataPageCount = "pageCount"

// HandleFileUploaded processes a storage "object finalized" notification. The
// document addressed by the object name moves to UPLOADED and its extraction
// task is dispatched right away. Notifications for documents that have already
// left PENDING are ignored so redelivery is harmless.
func (o *Orchestrator) HandleFileUploaded(ctx context.Context, obj models.StorageObject) error {
	path, err := models.ParseStoragePath(obj.Name)
	if err != nil {
		return models.NewError(models.CodeInvalidRequest, err)
	}
	logCtx := slog.With("collectionId", path.CollectionID, "documentId", path.DocumentID, "gcsObject", obj.Name)

	doc, err := o.loadDocument(ctx, path.DocumentID)
	if err != nil {
		return err
	}
	if doc.CollectionID != path.CollectionID || doc.TenantID != path.TenantID {
		return models.NewError(models.CodeInvalidRequest,
			fmt.Errorf("object %s does not belong to document %s", obj.Name, doc.ID)).ForDocument(doc.ID)
	}
	if doc.Status != models.DocumentPending {
		logCtx.Info("Document already uploaded. Ignoring notification.", "status", doc.Status)
		return nil
	}
	col, err := o.loadCollection(ctx, path.CollectionID)
	if err != nil {
		return err
	}
	if col.Status == models.CollectionDeleted {
		logCtx.Info("Collection deleted. Ignoring notification.")
		return nil
	}

	if err := o.transitionDocument(ctx, doc, models.DocumentUploaded, nil); err != nil {
		var colErr *CollectionError
		if errors.As(err, &colErr) {
			colErr.Code = models.CodeCollectionCreation
		}
		logCtx.Error("Failed to record upload.", "error", err)
		o.publishFailure(ctx, path.CollectionID, appErrorOf(err, models.CodeCollectionCreation))
		return err
	}
	if _, err := o.announce(ctx, path.CollectionID, nil); err != nil {
		return err
	}
	logCtx.Info("Document uploaded.")

	if err := o.dispatch(ctx, doc); err != nil {
		// Dispatch failures are settled on the document; only store failures
		// are worth a redelivery.
		if errors.Is(err, models.ErrCollectionPersistence) {
			return err
		}
		logCtx.Warn("Extraction dispatch failed.", "error", err)
	}
	return nil
}

// DispatchExtraction submits the extraction task for an UPLOADED document.
func (o *Orchestrator) DispatchExtraction(ctx context.Context, documentID string) error {
	doc, err := o.loadDocument(ctx, documentID)
	if err != nil {
		return err
	}
	return o.dispatch(ctx, doc)
}

func (o *Orchestrator) dispatch(ctx context.Context, doc *models.Document) error {
	logCtx := slog.With("collectionId", doc.CollectionID, "documentId", doc.ID)
	if doc.Status != models.DocumentUploaded {
		return models.NewError(models.CodeInvalidTransition, &models.TransitionError{
			Entity: "document", ID: doc.ID, From: string(doc.Status), To: string(models.DocumentInProgress),
		}).ForDocument(doc.ID)
	}

	path, err := models.ParseStoragePath(doc.Path)
	if err != nil {
		return o.failDocument(ctx, doc, models.NewError(models.CodeResourceNotFound, err))
	}
	link, err := o.blobs.IssueDownloadLink(ctx, path)
	if err != nil {
		logCtx.Error("Failed to issue download link.", "error", err)
		return o.failDocument(ctx, doc, models.NewError(models.CodeResourceNotFound, err))
	}

	body, err := json.Marshal(models.ExtractionTask{
		DocumentID:   doc.ID,
		TenantID:     doc.TenantID,
		CollectionID: doc.CollectionID,
		Name:         doc.Name,
		ContentType:  doc.ContentType,
		DownloadURL:  link,
		Prompt:       o.config.Prompt,
		CallbackURL:  o.config.CallbackURL,
	})
	if err != nil {
		return fmt.Errorf("failed to encode extraction task: %w", err)
	}

	start := time.Now()
	handle, err := o.queue.Submit(ctx, o.config.ExtractorEndpoint, body)
	o.metrics.QueueSubmit(time.Since(start), err)
	if err != nil {
		logCtx.Error("Failed to submit extraction task.", "error", err)
		return o.failDocument(ctx, doc, models.NewError(models.CodeTaskSubmission, err))
	}
	logCtx.Info("Extraction task submitted.", "executionId", handle)

	if err := o.transitionDocument(ctx, doc, models.DocumentInProgress, nil,
		persistence.Set("workflowExecutionId", handle)); err != nil {
		o.publishFailure(ctx, doc.CollectionID, appErrorOf(err, models.CodeCollectionUpdate))
		return err
	}
	doc.WorkflowExecutionID = handle
	_, err = o.announce(ctx, doc.CollectionID, nil)
	return err
}

// failDocument moves doc to ERROR with appErr and broadcasts the failure. It
// returns appErr unless the failure itself could not be stored.
func (o *Orchestrator) failDocument(ctx context.Context, doc *models.Document, appErr *models.AppError) error {
	appErr = appErr.ForDocument(doc.ID)
	if err := o.transitionDocument(ctx, doc, models.DocumentError, appErr); err != nil {
		o.publishFailure(ctx, doc.CollectionID, appErr)
		return err
	}
	col, err := o.settle(ctx, doc.CollectionID)
	if err != nil {
		return err
	}
	event := models.NewStatusEvent(col, appErr, o.now())
	event.Status = models.CollectionFailed
	o.publish(event)
	if streamFinished(col) {
		o.events.Close(col.ID)
	}
	return appErr
}

// HandleExtractionCallback resumes the extraction saga of the document named
// by cb. The stored document status decides the next step, so a redelivered
// callback continues where an earlier attempt stopped or does nothing. Any
// failure is broadcast with CodeInvoiceProcessing and returned unchanged so
// the sender can retry delivery.
func (o *Orchestrator) HandleExtractionCallback(ctx context.Context, cb *models.ExtractionCallback) error {
	if cb == nil || cb.ID == "" {
		return models.NewError(models.CodeInvalidRequest, errors.New("callback id is required"))
	}
	doc, err := o.loadDocument(ctx, cb.ID)
	if err != nil {
		return err
	}
	if err := o.resumeExtraction(ctx, doc, cb); err != nil {
		slog.Error("Extraction callback failed.", "collectionId", doc.CollectionID, "documentId", doc.ID, "error", err)
		o.publishFailure(ctx, doc.CollectionID, models.NewError(models.CodeInvoiceProcessing, err).ForDocument(doc.ID))
		return err
	}
	return nil
}

func (o *Orchestrator) resumeExtraction(ctx context.Context, doc *models.Document, cb *models.ExtractionCallback) error {
	logCtx := slog.With("collectionId", doc.CollectionID, "documentId", doc.ID)
	if doc.StructuredData == nil {
		doc.StructuredData = models.NewStructuredData()
	}

	for {
		switch doc.Status {
		case models.DocumentInProgress:
			if cb.Error != "" {
				appErr := models.NewError(models.CodeDocumentNotProcessed, errors.New(cb.Error)).ForDocument(doc.ID)
				logCtx.Warn("Extraction worker reported a failure.", "workerError", cb.Error)
				if err := o.transitionDocument(ctx, doc, models.DocumentError, appErr); err != nil {
					return err
				}
				_, err := o.announce(ctx, doc.CollectionID, appErr)
				return err
			}
			extra := []persistence.FieldUpdate{persistence.SetPath(cb.ParsedData, "structuredData", "raw")}
			if n, err := strconv.Atoi(cb.Metadata[MetadataPageCount]); err == nil && n > 0 {
				extra = append(extra, persistence.Set("pageCount", n))
				doc.PageCount = n
			}
			if err := o.transitionDocument(ctx, doc, models.DocumentParsed, nil, extra...); err != nil {
				return err
			}
			doc.StructuredData.Raw = cb.ParsedData
			if _, err := o.announce(ctx, doc.CollectionID, nil); err != nil {
				return err
			}

		case models.DocumentParsed:
			inv, err := models.ParseInvoice(doc.StructuredData.Raw)
			if err != nil {
				appErr := models.NewError(models.CodeStructuringFailed, err).ForDocument(doc.ID)
				logCtx.Warn("Extracted text is not a valid invoice.", "error", err)
				if err := o.transitionDocument(ctx, doc, models.DocumentError, appErr); err != nil {
					return err
				}
				_, err := o.announce(ctx, doc.CollectionID, appErr)
				return err
			}
			if err := o.transitionDocument(ctx, doc, models.DocumentStructured, nil,
				persistence.SetPath(inv, "structuredData", "structured")); err != nil {
				return err
			}
			doc.StructuredData.Structured = inv
			if _, err := o.announce(ctx, doc.CollectionID, nil); err != nil {
				return err
			}

		case models.DocumentStructured:
			errs := validation.Validate(doc.StructuredData.Structured)
			o.recordFindings(errs)
			if err := o.transitionDocument(ctx, doc, models.DocumentValidated, nil,
				persistence.SetPath(errs, "structuredData", "errors")); err != nil {
				return err
			}
			doc.StructuredData.Errors = errs
			if _, err := o.announce(ctx, doc.CollectionID, nil); err != nil {
				return err
			}
			logCtx.Info("Document validated.", "findings", len(errs), "hasErrors", validation.HasErrors(errs))
			return nil

		case models.DocumentValidated, models.DocumentApproved, models.DocumentError:
			logCtx.Info("Extraction already settled. Ignoring callback.", "status", doc.Status)
			return nil

		default:
			return models.NewError(models.CodeInvalidTransition, &models.TransitionError{
				Entity: "document", ID: doc.ID, From: string(doc.Status), To: string(models.DocumentParsed),
			}).ForDocument(doc.ID)
		}
	}
}

func (o *Orchestrator) recordFindings(errs map[string]models.ValidationError) {
	var nErrors, nWarnings int
	for _, e := range errs {
		if e.Severity == models.SeverityWarning {
			nWarnings++
		} else {
			nErrors++
		}
	}
	o.metrics.ValidationFindings(nErrors, nWarnings)
}

// ApproveDocument records a reviewer's approval of a VALIDATED document.
func (o *Orchestrator) ApproveDocument(ctx context.Context, documentID, userID string) (*models.Document, error) {
	doc, err := o.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status == models.DocumentApproved {
		return doc, nil
	}
	if userID == "" {
		userID = systemActor
	}
	if err := o.transitionDocument(ctx, doc, models.DocumentApproved, nil,
		persistence.Set("updatedBy", userID)); err != nil {
		return nil, err
	}
	if _, err := o.announce(ctx, doc.CollectionID, nil); err != nil {
		return nil, err
	}
	return doc, nil
}
