package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/invoiceflow/internal/broadcast"
	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/gcp"
	"github.com/Lllllllleong/invoiceflow/internal/handlers"
	"github.com/Lllllllleong/invoiceflow/internal/metrics"
	"github.com/Lllllllleong/invoiceflow/internal/persistence"
	"github.com/Lllllllleong/invoiceflow/internal/persistence/memstore"
	"github.com/Lllllllleong/invoiceflow/internal/services"
)

// application holds everything built once per instance.
type application struct {
	router   http.Handler
	onUpload func(context.Context, cloudevents.Event) error
}

var (
	app     *application
	once    sync.Once
	initErr error
)

func init() {
	// The status stream needs a long-lived process: the orchestrator, its
	// event registry and every SSE client share one instance.
	functions.HTTP("InvoiceService", serveHTTP)
	functions.CloudEvent("HandleFileUploaded", handleFileUploaded)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := funcframework.Start(port); err != nil {
		slog.Error("Functions framework stopped.", "error", err)
		os.Exit(1)
	}
}

func setup() (*application, error) {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	pipelineMetrics := metrics.NewPipelineMetrics("invoice-service")
	events := broadcast.NewRegistry(cfg.BroadcastBuffer)

	var (
		backend     persistence.Backend
		blobs       services.BlobStore
		queue       services.WorkQueue
		blobHandler http.Handler
		localBlobs  *gcp.LocalBlobStore
	)
	switch cfg.StoreDriver {
	case config.DriverMemory:
		backend = memstore.New()
		localBlobs = gcp.NewLocalBlobStore(cfg.BaseURL()+"/blobs", "local-uploads", nil)
		blobs, blobHandler = localBlobs, localBlobs
		queue = gcp.NewLocalQueue(nil)
		slog.Warn("Running with in-memory storage. State is lost on restart.")
	case config.DriverFirestore:
		firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, err
		}
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		executionsClient, err := executions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
		backend = gcp.NewFirestoreBackend(firestoreClient)
		blobs = gcp.NewBlobStore(storageClient, cfg.UploadsBucket, cfg.SignedURLTTL)
		queue = gcp.NewWorkflowQueue(executionsClient, cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
	}

	writer := persistence.NewBatchWriter(backend,
		persistence.WithGroupSize(cfg.BatchGroupSize),
		persistence.WithRecorder(pipelineMetrics),
	)
	orchestrator := services.NewOrchestrator(writer, blobs, queue, events, services.OrchestratorConfig{
		ExtractorEndpoint: cfg.ExtractorEndpoint,
		CallbackURL:       cfg.ExtractionCallbackURL(),
		Prompt:            gcp.InvoiceExtractionPrompt,
	}, services.WithRecorder(pipelineMetrics))

	if localBlobs != nil {
		// Local uploads notify the orchestrator the way a bucket trigger would.
		localBlobs.SetFinalizeFunc(orchestrator.HandleFileUploaded)
	}

	h := handlers.NewHandler(orchestrator)
	slog.Info("Invoice service initialized.", "storeDriver", cfg.StoreDriver, "baseUrl", cfg.BaseURL())
	return &application{
		router:   handlers.NewRouter(h, pipelineMetrics.Handler(), blobHandler),
		onUpload: handlers.StorageEventFunc(orchestrator),
	}, nil
}

func initialize() error {
	once.Do(func() {
		app, initErr = setup()
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization.", "error", initErr)
	}
	return initErr
}

// serveHTTP is the HTTP entry point for the API, status stream, callbacks and
// metrics.
func serveHTTP(w http.ResponseWriter, r *http.Request) {
	if err := initialize(); err != nil {
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	app.router.ServeHTTP(w, r)
}

// handleFileUploaded is the entry point for storage "object finalized" events.
func handleFileUploaded(ctx context.Context, e cloudevents.Event) error {
	if err := initialize(); err != nil {
		return err
	}
	return app.onUpload(ctx, e)
}
