// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/Lllllllleong/invoiceflow/internal/persistence"
)

// Store drivers.
const (
	DriverFirestore = "firestore"
	DriverMemory    = "memory"
)

// Config holds the settings of the invoice service.
type Config struct {
	ProjectID   string `envconfig:"PROJECT_ID"`
	StoreDriver string `envconfig:"STORE_DRIVER" default:"firestore"`

	// Storage
	UploadsBucket string        `envconfig:"UPLOADS_BUCKET"`
	SignedURLTTL  time.Duration `envconfig:"SIGNED_URL_TTL" default:"15m"`

	// Work queue: every extraction task runs as one workflow execution that
	// POSTs the task to ExtractorEndpoint.
	WorkflowLocation  string `envconfig:"WORKFLOW_LOCATION" default:"us-central1"`
	WorkflowID        string `envconfig:"WORKFLOW_ID" default:"invoice-extraction-dispatcher"`
	ExtractorEndpoint string `envconfig:"EXTRACTOR_ENDPOINT"`
	CallbackURL       string `envconfig:"CALLBACK_URL"`

	BroadcastBuffer int `envconfig:"BROADCAST_BUFFER" default:"16"`
	BatchGroupSize  int `envconfig:"BATCH_GROUP_SIZE" default:"500"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Port     string `envconfig:"PORT" default:"8080"`

	// PublicURL is where this service is reachable. It defaults to
	// http://localhost:PORT and roots the local blob links and callback.
	PublicURL string `envconfig:"PUBLIC_URL"`
}

// BaseURL returns PublicURL without a trailing slash, or the local address.
func (c *Config) BaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimSuffix(c.PublicURL, "/")
	}
	return "http://localhost:" + c.Port
}

// ExtractionCallbackURL returns CALLBACK_URL, or the service's own callback
// route when it is unset.
func (c *Config) ExtractionCallbackURL() string {
	if c.CallbackURL != "" {
		return c.CallbackURL
	}
	return c.BaseURL() + "/callbacks/extraction"
}

// Load reads Config from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the driver and the settings the driver depends on.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverFirestore:
		for name, value := range map[string]string{
			"PROJECT_ID":         c.ProjectID,
			"UPLOADS_BUCKET":     c.UploadsBucket,
			"EXTRACTOR_ENDPOINT": c.ExtractorEndpoint,
			"CALLBACK_URL":       c.CallbackURL,
		} {
			if value == "" {
				return fmt.Errorf("%s environment variable must be set when STORE_DRIVER=%s", name, DriverFirestore)
			}
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER: %q", c.StoreDriver)
	}

	if c.BatchGroupSize < 1 || c.BatchGroupSize > persistence.MaxGroupSize {
		return fmt.Errorf("BATCH_GROUP_SIZE must be between 1 and %d, got %d", persistence.MaxGroupSize, c.BatchGroupSize)
	}
	if c.SignedURLTTL <= 0 || c.SignedURLTTL > 7*24*time.Hour {
		return fmt.Errorf("SIGNED_URL_TTL must be positive and at most 7 days, got %s", c.SignedURLTTL)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ExtractorConfig holds the settings of the extraction worker.
type ExtractorConfig struct {
	ProjectID           string `envconfig:"PROJECT_ID" required:"true"`
	VertexAIRegion      string `envconfig:"VERTEX_AI_REGION" default:"us-central1"`
	VertexModel         string `envconfig:"VERTEX_MODEL" default:"gemini-1.5-pro"`
	RawExtractionBucket string `envconfig:"RAW_EXTRACTION_BUCKET"`
	LogLevel            string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadExtractor reads ExtractorConfig from the environment.
func LoadExtractor() (*ExtractorConfig, error) {
	var cfg ExtractorConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unsupported LOG_LEVEL: %q", s)
}
