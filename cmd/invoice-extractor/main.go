package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/services"
)

var (
	extractorInstance *services.ExtractorFunction
	once              sync.Once
	initErr           error
)

func init() {
	// "HandleExtractInvoice" is the entry point the dispatcher workflow calls.
	functions.HTTP("HandleExtractInvoice", handleExtractInvoice)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}
	if err := funcframework.Start(port); err != nil {
		slog.Error("Functions framework stopped.", "error", err)
		os.Exit(1)
	}
}

func newExtractor(ctx context.Context) (*services.ExtractorFunction, error) {
	cfg, err := config.LoadExtractor()
	if err != nil {
		return nil, err
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
	return services.NewExtractor(ctx, cfg)
}

// handleExtractInvoice runs one extraction task. It answers 200 once the
// callback has been delivered, even when the callback reports a failure, so
// the workflow only retries undelivered results.
func handleExtractInvoice(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		extractorInstance, initErr = newExtractor(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization.", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var task models.ExtractionTask
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		slog.Error("Could not decode request body.", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	cb, err := extractorInstance.Process(r.Context(), &task)
	if err != nil {
		slog.Error("Extraction result was not delivered.", "documentId", task.DocumentID, "error", err)
		http.Error(w, "Internal Server Error: callback delivery failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"documentId": cb.ID, "failed": cb.Error != ""}); err != nil {
		slog.Error("Failed to write response.", "error", err)
	}
}
