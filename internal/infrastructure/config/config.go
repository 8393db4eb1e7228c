// Package config loads service configuration from the environment, with an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	Addr          string
	OllamaURL     string
	DefaultModel  string
	BuildModel    string
	StreamTimeout time.Duration

	Anthropic AnthropicConfig
	Gemini    GeminiConfig

	Store     StoreConfig
	PDFURL    string
	Documents DocumentsConfig
	Artifacts ArtifactsConfig

	PromptsDir string
	LogLevel   string
	LogFormat  string
}

type AnthropicConfig struct {
	APIKey         string
	BaseURL        string
	ThinkingBudget int64
}

type GeminiConfig struct {
	APIKey  string
	BaseURL string
}

type StoreConfig struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
}

// DocumentsConfig selects MinIO when S3Endpoint is set, local disk otherwise.
type DocumentsConfig struct {
	Dir         string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool
}

type ArtifactsConfig struct {
	CacheSize       int
	CacheTTL        time.Duration
	BuildServiceURL string
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	e := env{get: getenv}
	cfg := &Config{
		Addr:          e.str("EDEN_ADDR", ":8080"),
		OllamaURL:     e.str("OLLAMA_URL", "http://localhost:11434"),
		DefaultModel:  e.str("DEFAULT_MODEL", "llama3.2"),
		BuildModel:    e.str("BUILD_MODEL", "claude-sonnet-4-5"),
		StreamTimeout: e.duration("STREAM_TIMEOUT", 5*time.Minute),
		Anthropic: AnthropicConfig{
			APIKey:         e.str("ANTHROPIC_API_KEY", ""),
			BaseURL:        e.str("ANTHROPIC_BASE_URL", ""),
			ThinkingBudget: int64(e.integer("ANTHROPIC_THINKING_BUDGET", 0)),
		},
		Gemini: GeminiConfig{
			APIKey:  e.str("GEMINI_API_KEY", ""),
			BaseURL: e.str("GEMINI_BASE_URL", ""),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(e.str("STORE_DRIVER", StoreMemory)),
			SQLitePath:  e.str("SQLITE_PATH", "./data/eden.db"),
			PostgresDSN: e.str("POSTGRES_DSN", ""),
		},
		PDFURL: e.str("PDF_SERVICE_URL", "http://localhost:8081"),
		Documents: DocumentsConfig{
			Dir:         e.str("DOCUMENTS_DIR", "./data/deliverables"),
			S3Endpoint:  e.str("S3_ENDPOINT", ""),
			S3AccessKey: e.str("S3_ACCESS_KEY", ""),
			S3SecretKey: e.str("S3_SECRET_KEY", ""),
			S3Bucket:    e.str("S3_BUCKET", "eden-deliverables"),
			S3Region:    e.str("S3_REGION", "us-east-1"),
			S3UseSSL:    e.boolean("S3_USE_SSL", false),
		},
		Artifacts: ArtifactsConfig{
			CacheSize:       e.integer("ARTIFACT_CACHE_SIZE", 256),
			CacheTTL:        e.duration("ARTIFACT_CACHE_TTL", 2*time.Hour),
			BuildServiceURL: e.str("BUILD_SERVICE_URL", ""),
		},
		PromptsDir: e.str("PROMPTS_DIR", ""),
		LogLevel:   strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogFormat:  strings.ToLower(e.str("LOG_FORMAT", "json")),
	}
	if len(e.errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(e.errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. It is also run after CLI flags
// have been applied.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("STORE_DRIVER=postgres requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.StreamTimeout <= 0 {
		return fmt.Errorf("STREAM_TIMEOUT must be positive")
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

// env collects parse errors so all of them are reported at once.
type env struct {
	get  func(string) string
	errs []string
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return v
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return v
}

func (e *env) boolean(key string, def bool) bool {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return v
}
