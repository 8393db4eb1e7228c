package ports

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized      = errors.New("upstream unauthorized")
	ErrRateLimited       = errors.New("upstream rate limited")
	ErrUnavailable       = errors.New("upstream unavailable")
	ErrStreamInterrupted = errors.New("upstream stream interrupted")
	ErrNotFound          = errors.New("not found")
	ErrUnknownModel      = errors.New("no adapter serves this model")
)

// UpstreamError is a provider failure: a non-success status, a dropped
// connection or malformed framing.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s upstream: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s upstream: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewStatusError maps a provider HTTP status to an UpstreamError.
func NewStatusError(provider string, status int, body string) *UpstreamError {
	var err error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		err = ErrUnauthorized
	case status == http.StatusTooManyRequests:
		err = ErrRateLimited
	case status >= 500:
		err = ErrUnavailable
	default:
		err = fmt.Errorf("unexpected status")
	}
	if body != "" {
		err = fmt.Errorf("%w: %s", err, body)
	}
	return &UpstreamError{Provider: provider, StatusCode: status, Err: err}
}

// ErrorCode classifies an error for the client-facing error event.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "upstream_unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "upstream_rate_limited"
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return "upstream_unavailable"
	case errors.Is(err, ErrStreamInterrupted):
		return "upstream_interrupted"
	default:
		return "upstream_error"
	}
}
