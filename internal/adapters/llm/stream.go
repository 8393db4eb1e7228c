// Package llm provides the upstream model adapters. Each one turns a
// provider's native streaming protocol into ports.StreamToken values carrying
// entities.Thinking, entities.Chunk and at most one entities.Signal.
package llm

import (
	"context"
	"strings"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/domain/extractor"
	"github.com/0xcro3dile/edenchat/internal/domain/ports"
)

// tokenBuffer is the output channel capacity of every adapter.
const tokenBuffer = 100

// emitter is the write side of one adapter stream. It accumulates the
// response text so the deliverable can be extracted once the provider is done.
type emitter struct {
	ctx  context.Context
	ch   chan<- ports.StreamToken
	full strings.Builder
}

func newEmitter(ctx context.Context) (*emitter, <-chan ports.StreamToken) {
	ch := make(chan ports.StreamToken, tokenBuffer)
	return &emitter{ctx: ctx, ch: ch}, ch
}

func (e *emitter) send(tok ports.StreamToken) bool {
	select {
	case e.ch <- tok:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *emitter) thinking() bool {
	return e.send(ports.StreamToken{Event: entities.Thinking{}})
}

func (e *emitter) chunk(text string) bool {
	if text == "" {
		return true
	}
	e.full.WriteString(text)
	return e.send(ports.StreamToken{Event: entities.Chunk{Text: text}})
}

// finish runs after the provider's terminal signal: one Signal when the full
// text carries a deliverable, then Done.
func (e *emitter) finish() {
	if p := extractor.Deliverable(e.full.String()); p != nil {
		if !e.send(ports.StreamToken{Event: entities.Signal{Payload: *p}}) {
			return
		}
	}
	e.send(ports.StreamToken{Done: true})
}

func (e *emitter) fail(err error) {
	e.send(ports.StreamToken{Error: err})
}

func (e *emitter) close() { close(e.ch) }

// mergeTurns joins consecutive turns of the same role and drops leading
// assistant turns, for providers that require strict user/assistant
// alternation starting with the user.
func mergeTurns(turns []entities.ConversationTurn) []entities.ConversationTurn {
	out := make([]entities.ConversationTurn, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		if len(out) == 0 && t.Role != entities.RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == t.Role {
			out[n-1].Content += "\n\n" + t.Content
			continue
		}
		out = append(out, t)
	}
	return out
}
