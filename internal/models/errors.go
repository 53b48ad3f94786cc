package models

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable identifier clients branch on instead of message text.
type ErrorCode string

const (
	CodeInvalidRequest          ErrorCode = "INVALID_REQUEST"
	CodeNotFound                ErrorCode = "NOT_FOUND"
	CodeCollectionCreation      ErrorCode = "COLLECTION_CREATION_FAILED"
	CodeCollectionUpdate        ErrorCode = "COLLECTION_UPDATE_FAILED"
	CodeUploadTargetUnavailable ErrorCode = "UPLOAD_TARGET_UNAVAILABLE"
	CodeResourceNotFound        ErrorCode = "RESOURCE_NOT_FOUND"
	CodeTaskSubmission          ErrorCode = "TASK_SUBMISSION_FAILED"
	CodeDocumentNotProcessed    ErrorCode = "DOCUMENT_NOT_PROCESSED"
	CodeStructuringFailed       ErrorCode = "DOCUMENT_STRUCTURING_FAILED"
	CodeInvoiceProcessing       ErrorCode = "INVOICE_PROCESSING_FAILED"
	CodeInvalidTransition       ErrorCode = "INVALID_STATUS_TRANSITION"
)

var errorMessages = map[ErrorCode]string{
	CodeInvalidRequest:          "The request is invalid.",
	CodeNotFound:                "The requested record does not exist.",
	CodeCollectionCreation:      "The collection could not be created.",
	CodeCollectionUpdate:        "The collection could not be updated.",
	CodeUploadTargetUnavailable: "An upload link could not be issued for the document.",
	CodeResourceNotFound:        "The uploaded document could not be found in storage.",
	CodeTaskSubmission:          "The document could not be queued for extraction.",
	CodeDocumentNotProcessed:    "The document could not be processed.",
	CodeStructuringFailed:       "The extracted text could not be read as an invoice.",
	CodeInvoiceProcessing:       "The invoice could not be processed.",
	CodeInvalidTransition:       "The document is not in a state that allows this step.",
}

// Message returns the registered user-facing message for c.
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return errorMessages[CodeInvoiceProcessing]
}

// ErrCollectionPersistence marks failures to commit collection and document
// state together.
var ErrCollectionPersistence = errors.New("collection persistence failed")

// ErrNotFound is returned when a record does not exist in the store.
var ErrNotFound = errors.New("not found")

// AppError is a user-facing (message, code) pair with the cause attached.
type AppError struct {
	Code       ErrorCode `json:"code" firestore:"code"`
	Message    string    `json:"message" firestore:"message"`
	DocumentID string    `json:"documentId,omitempty" firestore:"documentId,omitempty"`
	Err        error     `json:"-" firestore:"-"`
}

// NewError builds an AppError carrying the registry message for code.
func NewError(code ErrorCode, err error) *AppError {
	return &AppError{Code: code, Message: code.Message(), Err: err}
}

// ForDocument returns a copy of e scoped to a document.
func (e *AppError) ForDocument(documentID string) *AppError {
	out := *e
	out.DocumentID = documentID
	return &out
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// CodeOf extracts the error code from err, falling back to the generic
// invoice-processing code.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInvoiceProcessing
}
