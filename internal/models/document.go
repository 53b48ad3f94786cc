package models

import "time"

// Store collection paths.
const (
	CollectionsPath = "collections"
	DocumentsPath   = "documents"
	UsersPath       = "users"
)

// Document roles stored in the permission map.
const (
	RoleOwner  = "owner"
	RoleViewer = "viewer"
)

// Document is one uploaded source file and everything the pipeline learns
// about it. Its lifecycle is contained in the owning collection's lifecycle.
type Document struct {
	ID                  string            `firestore:"id" json:"id"`
	Name                string            `firestore:"name" json:"name"`
	Path                string            `firestore:"path" json:"path"`
	Type                string            `firestore:"type" json:"type"`
	ContentType         string            `firestore:"contentType,omitempty" json:"contentType,omitempty"`
	TenantID            string            `firestore:"tenantId" json:"tenantId"`
	CollectionID        string            `firestore:"collectionId" json:"collectionId"`
	Status              DocumentStatus    `firestore:"status" json:"status"`
	StructuredData      *StructuredData   `firestore:"structuredData,omitempty" json:"structuredData,omitempty"`
	Error               *AppError         `firestore:"error,omitempty" json:"error,omitempty"`
	Permissions         map[string]string `firestore:"permissions,omitempty" json:"permissions,omitempty"`
	PageCount           int               `firestore:"pageCount,omitempty" json:"pageCount,omitempty"`
	WorkflowExecutionID string            `firestore:"workflowExecutionId,omitempty" json:"workflowExecutionId,omitempty"` // For traceability
	CreatedBy           string            `firestore:"createdBy" json:"createdBy"`
	CreatedAt           time.Time         `firestore:"createdAt" json:"createdAt"`
	UpdatedBy           string            `firestore:"updatedBy" json:"updatedBy"`
	UpdatedAt           time.Time         `firestore:"updatedAt" json:"updatedAt"`
}

// StructuredData holds the extraction output of a document: the raw text, the
// typed invoice once structuring succeeds, and the validation errors keyed by
// field path.
type StructuredData struct {
	Raw        string                     `firestore:"raw" json:"raw"`
	Structured *Invoice                   `firestore:"structured,omitempty" json:"structured,omitempty"`
	Errors     map[string]ValidationError `firestore:"errors" json:"errors"`
}

// NewStructuredData returns an empty StructuredData.
func NewStructuredData() *StructuredData {
	return &StructuredData{Errors: map[string]ValidationError{}}
}

// Severity grades a validation finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationError locates a problem in a structured invoice. Field uses
// dot/bracket notation, e.g. invoice.lineItems[2].amount.
type ValidationError struct {
	Field    string   `firestore:"field" json:"field"`
	Message  string   `firestore:"message" json:"message"`
	Severity Severity `firestore:"severity" json:"severity"`
}

// StoragePath builds the object path tenant/collection/document/filename.
// The segment positions are load-bearing: upload notifications are decoded by
// position (see ParseStoragePath).
func StoragePath(tenantID, collectionID, documentID, filename string) string {
	return tenantID + "/" + collectionID + "/" + documentID + "/" + filename
}
