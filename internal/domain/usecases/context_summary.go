package usecases

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/domain/ports"
	"github.com/0xcro3dile/edenchat/internal/domain/scanner"
)

// SummaryBudget is the character budget of one prior-phase excerpt when no
// payload marker cuts it earlier.
const SummaryBudget = 1500

const summaryHeader = "Contexto de las fases anteriores de este proyecto. " +
	"Usa esta información y no vuelvas a preguntar lo que ya fue respondido.\n"

// ContextSummarizer builds the synthetic turn that carries earlier phases of a
// project into the current one.
type ContextSummarizer struct {
	turns  ports.TurnStore
	steps  ports.StepStore
	cfg    scanner.Config
	budget int
	log    *zap.Logger
}

// NewContextSummarizer creates a summarizer.
func NewContextSummarizer(turns ports.TurnStore, steps ports.StepStore, cfg scanner.Config, log *zap.Logger) *ContextSummarizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &ContextSummarizer{turns: turns, steps: steps, cfg: cfg, budget: SummaryBudget, log: log}
}

// Summarize returns the context-summary user turn for step, or ok=false when
// the step is a first phase, has no project, or no prior phase has text.
// Store failures drop the summary rather than the request.
func (s *ContextSummarizer) Summarize(ctx context.Context, step entities.Step) (entities.ConversationTurn, bool) {
	if s.steps == nil || step.Phase <= 1 || step.ProjectID == "" {
		return entities.ConversationTurn{}, false
	}
	prior, err := s.steps.CompletedPriorSteps(ctx, step.ProjectID, step.Phase)
	if err != nil {
		s.log.Warn("listing prior steps", zap.String("project_id", step.ProjectID), zap.Error(err))
		return entities.ConversationTurn{}, false
	}

	var b strings.Builder
	for _, p := range prior {
		excerpt, ok := s.lastAssistantExcerpt(ctx, p.SessionID)
		if !ok {
			continue
		}
		title := p.DeliverableTitle
		if title == "" {
			title = string(p.Level)
		}
		fmt.Fprintf(&b, "\n## Fase %d: %s\n%s\n", p.Phase, title, excerpt)
	}
	if b.Len() == 0 {
		return entities.ConversationTurn{}, false
	}
	return entities.ConversationTurn{
		SessionID: step.SessionID,
		Role:      entities.RoleUser,
		Content:   summaryHeader + b.String(),
	}, true
}

func (s *ContextSummarizer) lastAssistantExcerpt(ctx context.Context, sessionID string) (string, bool) {
	turns, err := s.turns.ListTurns(ctx, sessionID)
	if err != nil {
		s.log.Warn("listing prior session turns", zap.String("session_id", sessionID), zap.Error(err))
		return "", false
	}
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != entities.RoleAssistant {
			continue
		}
		excerpt := Excerpt(s.cfg, turns[i].Content, s.budget)
		return excerpt, excerpt != ""
	}
	return "", false
}

// Excerpt cuts text at its first payload marker, or else at budget runes,
// after removing any hidden preamble.
func Excerpt(cfg scanner.Config, text string, budget int) string {
	text = cfg.StripPreamble(text)
	if at := cfg.PayloadIndex(text); at >= 0 {
		return strings.TrimSpace(text[:at])
	}
	if utf8.RuneCountInString(text) <= budget {
		return strings.TrimSpace(text)
	}
	n := 0
	for i := range text {
		if n == budget {
			return strings.TrimSpace(text[:i]) + "…"
		}
		n++
	}
	return strings.TrimSpace(text)
}
