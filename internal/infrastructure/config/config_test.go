package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(lookup(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "http://localhost:11434", cfg.OllamaURL)
	assert.Equal(t, "llama3.2", cfg.DefaultModel)
	assert.Equal(t, "claude-sonnet-4-5", cfg.BuildModel)
	assert.Equal(t, 5*time.Minute, cfg.StreamTimeout)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, "./data/eden.db", cfg.Store.SQLitePath)
	assert.Equal(t, "eden-deliverables", cfg.Documents.S3Bucket)
	assert.Equal(t, "us-east-1", cfg.Documents.S3Region)
	assert.False(t, cfg.Documents.S3UseSSL)
	assert.Equal(t, 256, cfg.Artifacts.CacheSize)
	assert.Equal(t, 2*time.Hour, cfg.Artifacts.CacheTTL)
	assert.Empty(t, cfg.Anthropic.APIKey)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(lookup(map[string]string{
		"EDEN_ADDR":                 ":9090",
		"STREAM_TIMEOUT":            "90s",
		"ANTHROPIC_API_KEY":         "sk-test",
		"ANTHROPIC_THINKING_BUDGET": "2048",
		"STORE_DRIVER":              "Postgres",
		"POSTGRES_DSN":              "postgres://eden@localhost/eden",
		"S3_ENDPOINT":               "minio:9000",
		"S3_USE_SSL":                "true",
		"ARTIFACT_CACHE_TTL":        "30m",
		"LOG_FORMAT":                "console",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 90*time.Second, cfg.StreamTimeout)
	assert.Equal(t, "sk-test", cfg.Anthropic.APIKey)
	assert.Equal(t, int64(2048), cfg.Anthropic.ThinkingBudget)
	assert.Equal(t, StorePostgres, cfg.Store.Driver)
	assert.Equal(t, "minio:9000", cfg.Documents.S3Endpoint)
	assert.True(t, cfg.Documents.S3UseSSL)
	assert.Equal(t, 30*time.Minute, cfg.Artifacts.CacheTTL)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestFromEnv_ReportsAllParseErrors(t *testing.T) {
	_, err := FromEnv(lookup(map[string]string{
		"STREAM_TIMEOUT":      "soon",
		"ARTIFACT_CACHE_SIZE": "many",
		"S3_USE_SSL":          "maybe",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STREAM_TIMEOUT")
	assert.Contains(t, err.Error(), "ARTIFACT_CACHE_SIZE")
	assert.Contains(t, err.Error(), "S3_USE_SSL")
}

func TestValidate(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without dsn": {"STORE_DRIVER": "postgres"},
		"unknown driver":       {"STORE_DRIVER": "mongo"},
		"negative timeout":     {"STREAM_TIMEOUT": "-1s"},
		"unknown log format":   {"LOG_FORMAT": "xml"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(lookup(vars))
			assert.Error(t, err)
		})
	}
}
