// Package handlers adapts the invoice pipeline to HTTP, server-sent events and
// storage CloudEvents. Handlers decode, delegate and encode; every decision is
// made by the pipeline.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Lllllllleong/invoiceflow/internal/broadcast"
	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// Pipeline is the orchestrator surface the handlers expose.
type Pipeline interface {
	CreateCollection(ctx context.Context, req *models.CreateCollectionRequest) (*models.CreateCollectionResponse, error)
	GetCollection(ctx context.Context, id string) (*models.Collection, error)
	DeleteCollection(ctx context.Context, id, userID string) (*models.Collection, error)
	Watch(ctx context.Context, id string) (models.StatusEvent, *broadcast.Subscription, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ApproveDocument(ctx context.Context, id, userID string) (*models.Document, error)
	HandleFileUploaded(ctx context.Context, obj models.StorageObject) error
	HandleExtractionCallback(ctx context.Context, cb *models.ExtractionCallback) error
}

// Handler serves the pipeline's HTTP endpoints.
type Handler struct {
	pipeline Pipeline
}

func NewHandler(p Pipeline) *Handler { return &Handler{pipeline: p} }

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("could not parse JSON body: %w", err)
	}
	return nil
}

// CreateCollection POST /collections
func (h *Handler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCollectionRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	res, err := h.pipeline.CreateCollection(r.Context(), &req)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}

// GetCollection GET /collections/{collectionId}
func (h *Handler) GetCollection(w http.ResponseWriter, r *http.Request) {
	col, err := h.pipeline.GetCollection(r.Context(), mux.Vars(r)["collectionId"])
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, col)
}

// DeleteCollection DELETE /collections/{collectionId}?userId=
func (h *Handler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	col, err := h.pipeline.DeleteCollection(r.Context(), mux.Vars(r)["collectionId"], r.URL.Query().Get("userId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, col)
}

// GetDocument GET /documents/{documentId}
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.pipeline.GetDocument(r.Context(), mux.Vars(r)["documentId"])
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, doc)
}

// ApproveDocument POST /documents/{documentId}/approve
func (h *Handler) ApproveDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			badRequest(w, err)
			return
		}
	}
	doc, err := h.pipeline.ApproveDocument(r.Context(), mux.Vars(r)["documentId"], req.UserID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, doc)
}

// ExtractionCallback POST /callbacks/extraction
//
// Any failure answers with a non-2xx status so the worker retries delivery.
func (h *Handler) ExtractionCallback(w http.ResponseWriter, r *http.Request) {
	var cb models.ExtractionCallback
	if err := decode(r, &cb); err != nil {
		badRequest(w, err)
		return
	}
	if err := h.pipeline.HandleExtractionCallback(r.Context(), &cb); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StorageNotification POST /notifications/storage accepts a bare storage
// object payload, for environments without a CloudEvent trigger.
func (h *Handler) StorageNotification(w http.ResponseWriter, r *http.Request) {
	var obj models.StorageObject
	if err := decode(r, &obj); err != nil {
		badRequest(w, err)
		return
	}
	if err := h.pipeline.HandleFileUploaded(r.Context(), obj); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health GET /healthz
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NewRouter registers the pipeline routes. metrics and blobs are optional and
// mounted at /metrics and /blobs/ when set.
func NewRouter(h *Handler, metrics, blobs http.Handler) *mux.Router {
	root := mux.NewRouter()
	root.Use(Recover)

	root.HandleFunc("/collections", h.CreateCollection).Methods(http.MethodPost)
	root.HandleFunc("/collections/{collectionId}", h.GetCollection).Methods(http.MethodGet)
	root.HandleFunc("/collections/{collectionId}", h.DeleteCollection).Methods(http.MethodDelete)
	root.HandleFunc("/collections/{collectionId}/events", h.StreamCollection).Methods(http.MethodGet)
	root.HandleFunc("/documents/{documentId}", h.GetDocument).Methods(http.MethodGet)
	root.HandleFunc("/documents/{documentId}/approve", h.ApproveDocument).Methods(http.MethodPost)
	root.HandleFunc("/callbacks/extraction", h.ExtractionCallback).Methods(http.MethodPost)
	root.HandleFunc("/notifications/storage", h.StorageNotification).Methods(http.MethodPost)
	root.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)

	if metrics != nil {
		root.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	if blobs != nil {
		root.PathPrefix("/blobs/").Handler(http.StripPrefix("/blobs", blobs))
	}
	slog.Debug("Routes registered.", "metrics", metrics != nil, "blobs", blobs != nil)
	return root
}
