// Package artifacts keeps the latest code-artifact build per session and
// optionally forwards it to an external build service.
package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/domain/ports"
)

// Build statuses.
const (
	StatusPending   = "pending"
	StatusSubmitted = "submitted"
	StatusFailed    = "failed"
)

// Config configures the cache and the optional build hand-off.
type Config struct {
	Size            int
	TTL             time.Duration
	BuildServiceURL string
}

// Cache implements ports.ArtifactSink.
type Cache struct {
	builds     *expirable.LRU[string, ports.ArtifactBuild]
	serviceURL string
	client     *http.Client
	log        *zap.Logger
	now        func() time.Time
}

// NewCache creates a cache. Without a build service URL, builds stay pending.
func NewCache(cfg Config, log *zap.Logger) *Cache {
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		builds:     expirable.NewLRU[string, ports.ArtifactBuild](cfg.Size, nil, cfg.TTL),
		serviceURL: strings.TrimRight(cfg.BuildServiceURL, "/"),
		client:     &http.Client{Timeout: 30 * time.Second},
		log:        log.Named("artifacts"),
		now:        time.Now,
	}
}

// Submit records the build and hands it to the build service when one is
// configured. A hand-off failure is recorded on the build, not returned.
func (c *Cache) Submit(ctx context.Context, sessionID, messageID string, files []entities.CodeArtifact) (ports.ArtifactBuild, error) {
	if sessionID == "" {
		return ports.ArtifactBuild{}, fmt.Errorf("session id is required")
	}
	build := ports.ArtifactBuild{
		SessionID:   sessionID,
		MessageID:   messageID,
		Files:       files,
		Status:      StatusPending,
		SubmittedAt: c.now(),
	}

	if c.serviceURL != "" {
		if err := c.post(ctx, build); err != nil {
			c.log.Warn("build hand-off failed",
				zap.String("session_id", sessionID),
				zap.String("message_id", messageID),
				zap.Error(err))
			build.Status = StatusFailed
			build.Detail = err.Error()
		} else {
			build.Status = StatusSubmitted
		}
	}

	c.builds.Add(sessionID, build)
	c.log.Info("artifact build recorded",
		zap.String("session_id", sessionID),
		zap.Int("files", len(files)),
		zap.String("status", build.Status))
	return build, nil
}

func (c *Cache) post(ctx context.Context, build ports.ArtifactBuild) error {
	body, err := json.Marshal(build)
	if err != nil {
		return fmt.Errorf("marshaling build: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL+"/builds", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling build service: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("build service returned status %d", resp.StatusCode)
	}
	return nil
}

// Lookup returns the latest unexpired build for a session.
func (c *Cache) Lookup(sessionID string) (ports.ArtifactBuild, bool) {
	return c.builds.Get(sessionID)
}

var _ ports.ArtifactSink = (*Cache)(nil)
