package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// sseSink writes events as server-sent events. Headers go out with the first
// event, so a request rejected before any event can still get a plain
// error status.
type sseSink struct {
	ctx context.Context
	w   http.ResponseWriter
	rc  *http.ResponseController

	mu   sync.Mutex
	sent bool
}

func newSSESink(ctx context.Context, w http.ResponseWriter) *sseSink {
	return &sseSink{ctx: ctx, w: w, rc: http.NewResponseController(w)}
}

// Send implements ports.EventSink.
func (s *sseSink) Send(event string, data any) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sent {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.sent = true
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseSink) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}
