package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/0xcro3dile/edenchat/internal/domain/ports"
)

const (
	ollamaProvider  = "ollama"
	maxLineBytes    = 1 << 20
	maxErrBodyBytes = 4 << 10
)

// OllamaAdapter implements ports.ModelStream over Ollama's line-delimited
// JSON chat API. Ollama has no native reasoning segmentation, so it only
// emits chunks; the scanner finds any preamble in the text.
type OllamaAdapter struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

// NewOllamaAdapter creates a new Ollama adapter. The client carries no
// timeout: stream lifetime is bounded by the request context.
func NewOllamaAdapter(baseURL string, log *zap.Logger) *OllamaAdapter {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OllamaAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		log:     log.Named(ollamaProvider),
	}
}

// Provider implements ports.ModelStream.
func (a *OllamaAdapter) Provider() string { return ollamaProvider }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

// ollamaChatLine is one line of the streaming response.
type ollamaChatLine struct {
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Stream implements ports.ModelStream.
func (a *OllamaAdapter) Stream(ctx context.Context, req ports.StreamRequest) (<-chan ports.StreamToken, error) {
	body := ollamaChatRequest{Model: req.Model, Stream: true}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, t := range req.Turns {
		body.Messages = append(body.Messages, ollamaMessage{Role: string(t.Role), Content: t.Content})
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ports.UpstreamError{Provider: ollamaProvider, Err: fmt.Errorf("%w: %v", ports.ErrUnavailable, err)}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyBytes))
		return nil, ports.NewStatusError(ollamaProvider, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	em, ch := newEmitter(ctx)
	go func() {
		defer em.close()
		defer resp.Body.Close()
		a.pump(ctx, resp.Body, em)
	}()
	return ch, nil
}

func (a *OllamaAdapter) pump(ctx context.Context, body io.Reader, em *emitter) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChatLine
		if err := json.Unmarshal(line, &chunk); err != nil {
			a.log.Warn("malformed stream line", zap.ByteString("line", truncateBytes(line, 200)), zap.Error(err))
			em.fail(&ports.UpstreamError{Provider: ollamaProvider, Err: fmt.Errorf("malformed stream line: %w", err)})
			return
		}
		if chunk.Error != "" {
			em.fail(&ports.UpstreamError{Provider: ollamaProvider, Err: errors.New(chunk.Error)})
			return
		}
		if !em.chunk(chunk.Message.Content) {
			return
		}
		if chunk.Done {
			em.finish()
			return
		}
	}

	err := scanner.Err()
	switch {
	case ctx.Err() != nil:
		em.fail(ctx.Err())
	case err != nil:
		em.fail(&ports.UpstreamError{Provider: ollamaProvider, Err: fmt.Errorf("%w: %v", ports.ErrStreamInterrupted, err)})
	default:
		em.fail(&ports.UpstreamError{Provider: ollamaProvider, Err: ports.ErrStreamInterrupted})
	}
}

func truncateBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

var _ ports.ModelStream = (*OllamaAdapter)(nil)

