package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/domain/ports"
)

const geminiProvider = "gemini"

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
}

// GeminiAdapter implements ports.ModelStream over genai's streaming
// GenerateContent. Thought parts are reported natively as entities.Thinking.
type GeminiAdapter struct {
	client *genai.Client
	log    *zap.Logger
}

// NewGeminiAdapter creates the genai client against the Gemini API backend.
func NewGeminiAdapter(ctx context.Context, cfg GeminiConfig, log *zap.Logger) (*GeminiAdapter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GeminiAdapter{client: client, log: log.Named(geminiProvider)}, nil
}

// Provider implements ports.ModelStream.
func (a *GeminiAdapter) Provider() string { return geminiProvider }

func geminiContents(turns []entities.ConversationTurn) []*genai.Content {
	merged := mergeTurns(turns)
	out := make([]*genai.Content, 0, len(merged))
	for _, t := range merged {
		role := genai.Role(genai.RoleUser)
		if t.Role == entities.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(t.Content, role))
	}
	return out
}

// Stream implements ports.ModelStream. The iterator's natural end is the
// terminal signal; an error at any point ends the stream as a failure.
func (a *GeminiAdapter) Stream(ctx context.Context, req ports.StreamRequest) (<-chan ports.StreamToken, error) {
	config := &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{IncludeThoughts: true},
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	contents := geminiContents(req.Turns)

	em, ch := newEmitter(ctx)
	go func() {
		defer em.close()

		inThought := false
		for resp, err := range a.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				em.fail(a.upstreamError(ctx, err))
				return
			}
			for _, part := range responseParts(resp) {
				if part.Thought {
					if !inThought && !em.thinking() {
						return
					}
					inThought = true
					continue
				}
				inThought = false
				if !em.chunk(part.Text) {
					return
				}
			}
		}
		if ctx.Err() != nil {
			em.fail(ctx.Err())
			return
		}
		em.finish()
	}()
	return ch, nil
}

func responseParts(resp *genai.GenerateContentResponse) []*genai.Part {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	return resp.Candidates[0].Content.Parts
}

func (a *GeminiAdapter) upstreamError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		a.log.Warn("generate content error", zap.Int("status", apiErr.Code), zap.String("message", apiErr.Message))
		return ports.NewStatusError(geminiProvider, apiErr.Code, "")
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return ports.NewStatusError(geminiProvider, apiErrPtr.Code, "")
	}
	return &ports.UpstreamError{Provider: geminiProvider, Err: fmt.Errorf("%w: %v", ports.ErrStreamInterrupted, err)}
}

var _ ports.ModelStream = (*GeminiAdapter)(nil)
