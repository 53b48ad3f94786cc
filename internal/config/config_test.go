package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PROJECT_ID", "STORE_DRIVER", "UPLOADS_BUCKET", "SIGNED_URL_TTL",
		"WORKFLOW_LOCATION", "WORKFLOW_ID", "EXTRACTOR_ENDPOINT", "CALLBACK_URL",
		"BROADCAST_BUFFER", "BATCH_GROUP_SIZE", "LOG_LEVEL", "PORT", "PUBLIC_URL",
		"VERTEX_AI_REGION", "VERTEX_MODEL", "RAW_EXTRACTION_BUCKET",
	} {
		// Setenv registers the restore; the variable must be absent, not empty,
		// for defaults to apply.
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_MemoryDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", DriverMemory)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 15*time.Minute, cfg.SignedURLTTL)
	assert.Equal(t, 500, cfg.BatchGroupSize)
	assert.Equal(t, 16, cfg.BroadcastBuffer)
	assert.Equal(t, "us-central1", cfg.WorkflowLocation)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL())
	assert.Equal(t, "http://localhost:8080/callbacks/extraction", cfg.ExtractionCallbackURL())

	t.Setenv("PUBLIC_URL", "https://invoices.example.com/")
	t.Setenv("CALLBACK_URL", "https://hooks.example.com/cb")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "https://invoices.example.com", cfg.BaseURL())
	assert.Equal(t, "https://hooks.example.com/cb", cfg.ExtractionCallbackURL())
}

func TestLoad_FirestoreRequiresGCPSettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", DriverFirestore)
	t.Setenv("PROJECT_ID", "proj")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("UPLOADS_BUCKET", "uploads")
	t.Setenv("EXTRACTOR_ENDPOINT", "https://extractor.example.com")
	t.Setenv("CALLBACK_URL", "https://service.example.com/callback")
	t.Setenv("SIGNED_URL_TTL", "1h")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "proj", cfg.ProjectID)
	assert.Equal(t, time.Hour, cfg.SignedURLTTL)
}

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{StoreDriver: DriverMemory, BatchGroupSize: 10, SignedURLTTL: time.Minute, LogLevel: "info"}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.StoreDriver = "postgres" }},
		{"group too large", func(c *Config) { c.BatchGroupSize = 501 }},
		{"group zero", func(c *Config) { c.BatchGroupSize = 0 }},
		{"ttl too long", func(c *Config) { c.SignedURLTTL = 8 * 24 * time.Hour }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())
}

func TestLoadExtractor(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROJECT_ID", "proj")
	t.Setenv("VERTEX_MODEL", "gemini-2.0-flash")

	cfg, err := LoadExtractor()
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", cfg.VertexModel)
	assert.Equal(t, "us-central1", cfg.VertexAIRegion)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
