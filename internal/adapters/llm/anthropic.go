package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/domain/ports"
)

const (
	anthropicProvider  = "anthropic"
	anthropicMaxTokens = 16000
	// minThinkingBudget is the smallest budget the Messages API accepts.
	minThinkingBudget = 1024
)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	// ThinkingBudget enables native extended thinking when positive.
	ThinkingBudget int64
	MaxTokens      int64
}

// AnthropicAdapter implements ports.ModelStream over the Messages streaming
// API. Thinking blocks are reported natively as entities.Thinking.
type AnthropicAdapter struct {
	client anthropic.Client
	cfg    AnthropicConfig
	log    *zap.Logger
}

// NewAnthropicAdapter creates an adapter. Retries are disabled: a failed
// request is reported, never replayed.
func NewAnthropicAdapter(cfg AnthropicConfig, log *zap.Logger) *AnthropicAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = anthropicMaxTokens
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicAdapter{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		log:    log.Named(anthropicProvider),
	}
}

// Provider implements ports.ModelStream.
func (a *AnthropicAdapter) Provider() string { return anthropicProvider }

func (a *AnthropicAdapter) params(req ports.StreamRequest) anthropic.MessageNewParams {
	turns := mergeTurns(req.Turns)
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(t.Content)
		if t.Role == entities.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: a.cfg.MaxTokens,
		Messages:  messages,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if b := a.cfg.ThinkingBudget; b >= minThinkingBudget && b < params.MaxTokens {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(b)
	}
	return params
}

// Stream implements ports.ModelStream.
func (a *AnthropicAdapter) Stream(ctx context.Context, req ports.StreamRequest) (<-chan ports.StreamToken, error) {
	stream := a.client.Messages.NewStreaming(ctx, a.params(req))
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, a.upstreamError(ctx, err)
	}

	em, ch := newEmitter(ctx)
	go func() {
		defer em.close()
		defer stream.Close()

		stopped := false
		for stream.Next() {
			switch ev := stream.Current().AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if ev.ContentBlock.Type == "thinking" || ev.ContentBlock.Type == "redacted_thinking" {
					if !em.thinking() {
						return
					}
				}
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
					if !em.chunk(delta.Text) {
						return
					}
				}
			case anthropic.MessageStopEvent:
				stopped = true
			}
		}

		switch err := stream.Err(); {
		case err != nil:
			em.fail(a.upstreamError(ctx, err))
		case !stopped:
			em.fail(&ports.UpstreamError{Provider: anthropicProvider, Err: ports.ErrStreamInterrupted})
		default:
			em.finish()
		}
	}()
	return ch, nil
}

// upstreamError maps SDK errors onto the provider error taxonomy.
func (a *AnthropicAdapter) upstreamError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		a.log.Warn("messages api error", zap.Int("status", apiErr.StatusCode), zap.Error(err))
		return ports.NewStatusError(anthropicProvider, apiErr.StatusCode, "")
	}
	return &ports.UpstreamError{Provider: anthropicProvider, Err: fmt.Errorf("%w: %v", ports.ErrStreamInterrupted, err)}
}

var _ ports.ModelStream = (*AnthropicAdapter)(nil)
