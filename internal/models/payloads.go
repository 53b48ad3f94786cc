package models

import (
	"fmt"
	"strings"
	"time"
)

// These structs define the JSON payloads exchanged with clients, the storage
// notification source, and the extraction worker.

// CreateCollectionRequest is the input for collection creation.
type CreateCollectionRequest struct {
	UserID    string                  `json:"userId"`
	Name      string                  `json:"name"`
	Type      string                  `json:"type"`
	Documents []CreateDocumentRequest `json:"documents"`
}

type CreateDocumentRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	ContentType string `json:"contentType"`
}

// CreateCollectionResponse returns the new ids and where to upload each file.
type CreateCollectionResponse struct {
	CollectionID string             `json:"collectionId"`
	Status       CollectionStatus   `json:"status"`
	Documents    []UploadTargetInfo `json:"documents"`
}

type UploadTargetInfo struct {
	DocumentID string         `json:"documentId"`
	Name       string         `json:"name"`
	Path       string         `json:"path"`
	UploadURL  string         `json:"uploadUrl,omitempty"`
	Status     DocumentStatus `json:"status"`
	Error      *AppError      `json:"error,omitempty"`
}

// StorageObject is the payload of a storage "object finalized" notification.
type StorageObject struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        string `json:"size,omitempty"`
}

// ObjectPath is a decoded tenant/collection/document/filename object name.
type ObjectPath struct {
	TenantID     string
	CollectionID string
	DocumentID   string
	Filename     string
}

// String joins the segments back into an object name.
func (p ObjectPath) String() string {
	return StoragePath(p.TenantID, p.CollectionID, p.DocumentID, p.Filename)
}

// ParseStoragePath decodes an object name by segment position: index 0 is the
// tenant, 1 the collection, 2 the document, 3 the filename.
func ParseStoragePath(name string) (ObjectPath, error) {
	parts := strings.Split(strings.TrimPrefix(name, "/"), "/")
	if len(parts) != 4 {
		return ObjectPath{}, fmt.Errorf("object name %q must have 4 segments, got %d", name, len(parts))
	}
	for i, part := range parts {
		if part == "" {
			return ObjectPath{}, fmt.Errorf("object name %q has an empty segment at index %d", name, i)
		}
	}
	return ObjectPath{
		TenantID:     parts[0],
		CollectionID: parts[1],
		DocumentID:   parts[2],
		Filename:     parts[3],
	}, nil
}

// ExtractionTask is the body submitted to the work queue for one document.
type ExtractionTask struct {
	DocumentID   string `json:"documentId"`
	TenantID     string `json:"tenantId"`
	CollectionID string `json:"collectionId"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType,omitempty"`
	DownloadURL  string `json:"downloadUrl"`
	Prompt       string `json:"prompt"`
	CallbackURL  string `json:"callbackUrl"`
}

// ExtractionCallback is posted back by the extraction worker.
type ExtractionCallback struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Path       string            `json:"path"`
	Type       string            `json:"type"`
	ParsedData string            `json:"parsedData,omitempty"`
	Metadata   map[string]string `json:"metadata"`
	Error      string            `json:"error,omitempty"`
}

// StatusEvent is one entry of a collection's status stream.
type StatusEvent struct {
	ID        string                    `json:"id"`
	Name      string                    `json:"name"`
	Status    CollectionStatus          `json:"status"`
	Type      string                    `json:"type"`
	Documents map[string]DocumentStatus `json:"documents"`
	Error     *AppError                 `json:"error,omitempty"`
	Timestamp time.Time                 `json:"timestamp"`
}

// NewStatusEvent snapshots c into an event.
func NewStatusEvent(c *Collection, appErr *AppError, now time.Time) StatusEvent {
	return StatusEvent{
		ID:        c.ID,
		Name:      c.Name,
		Status:    c.Status,
		Type:      c.Type,
		Documents: c.DocumentSnapshot(),
		Error:     appErr,
		Timestamp: now,
	}
}
