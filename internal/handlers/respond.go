package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/services"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error *models.AppError `json:"error"`
}

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response.", "error", err)
	}
}

// WriteError maps err onto its code and HTTP status.
func WriteError(w http.ResponseWriter, err error) {
	appErr := toAppError(err)
	status := StatusFor(appErr.Code)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed.", "code", appErr.Code, "error", err)
	}
	WriteJSON(w, status, ErrorResponse{Error: appErr})
}

func toAppError(err error) *models.AppError {
	var colErr *services.CollectionError
	if errors.As(err, &colErr) {
		return colErr.AppError()
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return models.NewError(models.CodeInvoiceProcessing, err)
}

// StatusFor returns the HTTP status for an error code.
func StatusFor(code models.ErrorCode) int {
	switch code {
	case models.CodeInvalidRequest:
		return http.StatusBadRequest
	case models.CodeNotFound, models.CodeResourceNotFound:
		return http.StatusNotFound
	case models.CodeInvalidTransition:
		return http.StatusConflict
	case models.CodeCollectionCreation, models.CodeCollectionUpdate, models.CodeTaskSubmission, models.CodeUploadTargetUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(w http.ResponseWriter, err error) {
	WriteError(w, models.NewError(models.CodeInvalidRequest, err))
}

// Recover turns a panicking handler into a 500 reply.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Handler panicked.", "panic", rec, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
