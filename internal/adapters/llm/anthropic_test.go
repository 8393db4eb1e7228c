package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/domain/ports"
)

type sseEvent struct {
	name string
	data string
}

func writeSSE(w http.ResponseWriter, events []sseEvent) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, ev := range events {
		if ev.name != "" {
			fmt.Fprintf(w, "event: %s\n", ev.name)
		}
		fmt.Fprintf(w, "data: %s\n\n", ev.data)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func textDelta(index int, text string) sseEvent {
	b, _ := json.Marshal(text)
	return sseEvent{"content_block_delta", fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"text_delta","text":%s}}`, index, b)}
}

var (
	messageStart = sseEvent{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":1}}}`}
	thinkingOpen = sseEvent{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":"","signature":""}}`}
	thinkingText = sseEvent{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"el usuario quiere un plan"}}`}
	blockStop0   = sseEvent{"content_block_stop", `{"type":"content_block_stop","index":0}`}
	textOpen1    = sseEvent{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}`}
	blockStop1   = sseEvent{"content_block_stop", `{"type":"content_block_stop","index":1}`}
	messageDelta = sseEvent{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":12}}`}
	messageStop  = sseEvent{"message_stop", `{"type":"message_stop"}`}
)

func newTestAnthropic(t *testing.T, handler http.HandlerFunc) *AnthropicAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAnthropicAdapter(AnthropicConfig{APIKey: "test-key", BaseURL: server.URL, ThinkingBudget: 2048}, zaptest.NewLogger(t))
}

func TestAnthropic_ThinkingThenText(t *testing.T) {
	var body map[string]any
	adapter := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		writeSSE(w, []sseEvent{
			messageStart,
			thinkingOpen, thinkingText, blockStop0,
			textOpen1, textDelta(1, "Hola, "), textDelta(1, "empecemos."), blockStop1,
			messageDelta, messageStop,
		})
	})

	ch, err := adapter.Stream(context.Background(), ports.StreamRequest{
		Model:        "claude-sonnet-4-5",
		SystemPrompt: "eres EDEN",
		Turns: []entities.ConversationTurn{
			{Role: entities.RoleAssistant, Content: "saludo previo"},
			{Role: entities.RoleUser, Content: "hola"},
		},
	})
	require.NoError(t, err)

	res := collect(t, ch)
	require.True(t, res.done, "err: %v", res.err)
	require.NotEmpty(t, res.events)
	assert.Equal(t, entities.Thinking{}, res.events[0])
	assert.Equal(t, "Hola, empecemos.", res.text())

	assert.Equal(t, "claude-sonnet-4-5", body["model"])
	assert.Equal(t, true, body["stream"])
	messages, _ := body["messages"].([]any)
	require.Len(t, messages, 1, "leading assistant turn is dropped")
	thinking, _ := body["thinking"].(map[string]any)
	assert.Equal(t, "enabled", thinking["type"])
}

func TestAnthropic_SignalFromAccumulatedText(t *testing.T) {
	adapter := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, []sseEvent{
			messageStart, textOpen1,
			textDelta(1, "Aquí está.\n```json\n{\"deliverable_title\": \"Mapa\", "),
			textDelta(1, "\"deliverable_content\": \"# Mapa\", \"deliverable_ready\": true}\n```"),
			blockStop1, messageDelta, messageStop,
		})
	})

	ch, err := adapter.Stream(context.Background(), ports.StreamRequest{Model: "claude-sonnet-4-5"})
	require.NoError(t, err)

	res := collect(t, ch)
	require.True(t, res.done)
	signals := res.signals()
	require.Len(t, signals, 1)
	assert.Equal(t, "Mapa", signals[0].Payload.Title)
}

func TestAnthropic_MissingStopIsInterrupted(t *testing.T) {
	adapter := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, []sseEvent{messageStart, textOpen1, textDelta(1, "a medias")})
	})

	ch, err := adapter.Stream(context.Background(), ports.StreamRequest{Model: "claude-sonnet-4-5"})
	require.NoError(t, err)

	res := collect(t, ch)
	assert.False(t, res.done)
	assert.ErrorIs(t, res.err, ports.ErrStreamInterrupted)
	assert.Equal(t, "a medias", res.text())
}

func TestAnthropic_StatusErrors(t *testing.T) {
	cases := []struct {
		status int
		kind   string
		want   string
	}{
		{http.StatusUnauthorized, "authentication_error", "upstream_unauthorized"},
		{http.StatusTooManyRequests, "rate_limit_error", "upstream_rate_limited"},
		{529, "overloaded_error", "upstream_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			adapter := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				fmt.Fprintf(w, `{"type":"error","error":{"type":%q,"message":"no"}}`, tc.kind)
			})

			ch, err := adapter.Stream(context.Background(), ports.StreamRequest{Model: "claude-sonnet-4-5"})
			if err == nil {
				// Some SDK versions surface the failure on the first Next call.
				res := collect(t, ch)
				err = res.err
			}
			require.Error(t, err)
			assert.Equal(t, tc.want, ports.ErrorCode(err))
		})
	}
}

func TestAnthropic_ParamsThinkingBudget(t *testing.T) {
	small := NewAnthropicAdapter(AnthropicConfig{APIKey: "k", ThinkingBudget: 100}, nil)
	p := small.params(ports.StreamRequest{Model: "claude-x"})
	assert.Nil(t, p.Thinking.OfEnabled)
	assert.Equal(t, int64(anthropicMaxTokens), p.MaxTokens)

	on := NewAnthropicAdapter(AnthropicConfig{APIKey: "k", ThinkingBudget: 4096}, nil)
	p = on.params(ports.StreamRequest{Model: "claude-x", SystemPrompt: "sys"})
	require.NotNil(t, p.Thinking.OfEnabled)
	assert.Equal(t, int64(4096), p.Thinking.OfEnabled.BudgetTokens)
	require.Len(t, p.System, 1)
	assert.True(t, strings.HasPrefix(p.System[0].Text, "sys"))
}
