// Package usecases contains application business rules.
// Usecases orchestrate entities and depend on port interfaces only.
package usecases

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/domain/extractor"
	"github.com/0xcro3dile/edenchat/internal/domain/ports"
	"github.com/0xcro3dile/edenchat/internal/domain/scanner"
)

// ErrInvalidRequest rejects a message before any event is emitted.
var ErrInvalidRequest = errors.New("session_id and content are required")

const (
	defaultStreamTimeout = 5 * time.Minute
	defaultPayloadNotice = "\n\n_Generando tu entregable..._"
	defaultErrorMessage  = "Lo siento, no pude generar una respuesta en este momento. Por favor, inténtalo de nuevo."
)

// ChatConfig tunes the orchestrator.
type ChatConfig struct {
	StreamTimeout time.Duration
	Scanner       scanner.Config
	// PayloadNotice is shown in place of an embedded payload.
	PayloadNotice string
	ErrorMessage  string
}

// ChatUseCase is the conversation orchestrator. One call drives one model
// stream to completion; calls share only the stores.
type ChatUseCase struct {
	models     ports.ModelRegistry
	turns      ports.TurnStore
	steps      ports.StepStore
	prompts    ports.PromptSource
	router     *Router
	summarizer *ContextSummarizer
	dispatcher *DeliverableDispatcher
	artifacts  ports.ArtifactSink
	cfg        ChatConfig
	log        *zap.Logger

	now   func() time.Time
	newID func() string
}

// ChatDeps groups the collaborators of a ChatUseCase. Steps, Dispatcher and
// Artifacts are optional.
type ChatDeps struct {
	Models     ports.ModelRegistry
	Turns      ports.TurnStore
	Steps      ports.StepStore
	Prompts    ports.PromptSource
	Router     *Router
	Dispatcher *DeliverableDispatcher
	Artifacts  ports.ArtifactSink
}

// NewChatUseCase creates the orchestrator with injected dependencies.
func NewChatUseCase(deps ChatDeps, cfg ChatConfig, log *zap.Logger) *ChatUseCase {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = defaultStreamTimeout
	}
	if cfg.Scanner.PreambleBegin == "" && len(cfg.Scanner.PayloadMarkers) == 0 {
		cfg.Scanner = scanner.DefaultConfig()
	}
	if cfg.PayloadNotice == "" {
		cfg.PayloadNotice = defaultPayloadNotice
	}
	if cfg.ErrorMessage == "" {
		cfg.ErrorMessage = defaultErrorMessage
	}
	return &ChatUseCase{
		models:     deps.Models,
		turns:      deps.Turns,
		steps:      deps.Steps,
		prompts:    deps.Prompts,
		router:     deps.Router,
		summarizer: NewContextSummarizer(deps.Turns, deps.Steps, cfg.Scanner, log),
		dispatcher: deps.Dispatcher,
		artifacts:  deps.Artifacts,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// streamOutcome is what driving one adapter produced.
type streamOutcome struct {
	final     scanner.FinalState
	signal    *entities.DeliverablePayload
	completed bool
	// clientGone means the outward sink failed or the caller cancelled.
	clientGone bool
	err        error
}

// HandleMessage processes one user message and writes the outward event
// stream to sink. It returns ErrInvalidRequest before emitting anything;
// every other failure is reported through the stream, which always ends with
// a done event.
func (uc *ChatUseCase) HandleMessage(ctx context.Context, req entities.ChatRequest, sink ports.EventSink) error {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" || strings.TrimSpace(req.Content) == "" {
		return ErrInvalidRequest
	}

	messageID := uc.newID()
	defer func() {
		if err := sink.Send(entities.EventDone, entities.DoneEvent{MessageID: messageID}); err != nil {
			uc.log.Debug("sending done", zap.String("session_id", req.SessionID), zap.Error(err))
		}
	}()

	userTurn := entities.ConversationTurn{
		ID:        uc.newID(),
		SessionID: req.SessionID,
		Role:      entities.RoleUser,
		Content:   req.Content,
		CreatedAt: uc.now(),
	}
	if err := uc.turns.InsertTurn(ctx, userTurn); err != nil {
		uc.log.Warn("persisting user turn", zap.String("session_id", req.SessionID), zap.Error(err))
	}

	step, linked := uc.linkedStep(ctx, req.SessionID)
	var storedLevel entities.LevelContext
	if linked {
		storedLevel = step.Level
		if step.Phase == 0 {
			step.Phase = uc.router.Phase(step.Level)
		}
	}
	route := uc.router.Resolve(req.Content, storedLevel, req.Model)

	log := uc.log.With(
		zap.String("session_id", req.SessionID),
		zap.String("message_id", messageID),
		zap.String("model", route.Model),
		zap.String("level", string(route.Level)),
	)
	log.Info("routing message", zap.Bool("linked_step", linked), zap.Bool("build_requested", route.BuildRequested))

	history := uc.history(ctx, log, userTurn)
	if linked {
		if summary, ok := uc.summarizer.Summarize(ctx, step); ok {
			history = append([]entities.ConversationTurn{summary}, history...)
		}
	}

	if err := sink.Send(entities.EventModerationInfo, moderationInfo(route)); err != nil {
		log.Info("client gone before streaming", zap.Error(err))
		return nil
	}

	out := uc.drive(ctx, log, route, messageID, history, sink)

	// Partial text is still worth keeping, so persistence outlives the client.
	persistCtx := context.WithoutCancel(ctx)
	if out.final.Raw != "" {
		turn := entities.ConversationTurn{
			ID:         messageID,
			SessionID:  req.SessionID,
			Role:       entities.RoleAssistant,
			Content:    out.final.Raw,
			AgentLabel: route.Agent,
			CreatedAt:  uc.now(),
		}
		if err := uc.turns.InsertTurn(persistCtx, turn); err != nil {
			log.Warn("persisting assistant turn", zap.Error(err))
		}
	}

	if !out.completed {
		if out.clientGone {
			log.Info("stream aborted by client", zap.Error(out.err))
			return nil
		}
		log.Warn("stream failed", zap.Error(out.err), zap.String("code", ports.ErrorCode(out.err)))
		_ = sink.Send(entities.EventError, entities.ErrorEvent{
			Content: uc.cfg.ErrorMessage,
			Error:   ports.ErrorCode(out.err),
		})
		return nil
	}

	meta := entities.MessageMetadata{
		Model:     route.Model,
		EdenLevel: string(route.Level),
		CreatedAt: uc.now(),
	}

	if out.signal != nil && out.signal.Ready {
		meta.Deliverable = out.signal.Title
		if err := sink.Send(entities.EventDeliverableSignal, *out.signal); err != nil {
			log.Debug("sending deliverable signal", zap.Error(err))
		}
		if uc.dispatcher != nil {
			res := uc.dispatcher.OnDeliverableDetected(persistCtx, req.SessionID, messageID, *out.signal)
			meta.DocumentKey = res.DocumentKey
		}
	} else if out.final.PayloadOffset >= 0 && !route.Build {
		log.Warn("payload marker seen but no deliverable recovered")
	}

	if route.Build {
		meta.ArtifactCount = uc.handOffArtifacts(persistCtx, log, req.SessionID, messageID, out.final.Raw)
	}

	if err := sink.Send(entities.EventAssistantMessage, entities.AssistantMessage{
		ID:       messageID,
		Agent:    route.Agent,
		Content:  out.final.Visible,
		Metadata: meta,
	}); err != nil {
		log.Debug("sending assistant message", zap.Error(err))
	}
	return nil
}

// drive runs the adapter through a scanner and forwards visible output as
// soon as it is decided.
func (uc *ChatUseCase) drive(ctx context.Context, log *zap.Logger, route entities.Route, messageID string, history []entities.ConversationTurn, sink ports.EventSink) (out streamOutcome) {
	sc := scanner.New(uc.cfg.Scanner)
	defer func() { out.final = sc.Finalize() }()

	adapter, err := uc.models.For(route.Model)
	if err != nil {
		out.err = err
		return out
	}

	streamCtx, cancel := context.WithTimeout(ctx, uc.cfg.StreamTimeout)
	defer cancel()

	tokens, err := adapter.Stream(streamCtx, ports.StreamRequest{
		Model:        route.Model,
		SystemPrompt: uc.prompts.SystemPrompt(route.Level),
		Turns:        history,
		Level:        route.Level,
	})
	if err != nil {
		out.err = err
		out.clientGone = ctx.Err() != nil
		return out
	}

	chunk := func(content string, thinking bool) error {
		return sink.Send(entities.EventAssistantChunk, entities.AssistantChunk{
			ID:         messageID,
			Agent:      route.Agent,
			Content:    content,
			IsThinking: thinking,
		})
	}

	for {
		var tok ports.StreamToken
		var ok bool
		select {
		case <-streamCtx.Done():
			out.err = streamCtx.Err()
			out.clientGone = ctx.Err() != nil
			return out
		case tok, ok = <-tokens:
		}

		switch {
		case !ok:
			out.err = &ports.UpstreamError{Provider: adapter.Provider(), Err: ports.ErrStreamInterrupted}
			return out
		case tok.Error != nil:
			out.err = tok.Error
			out.clientGone = ctx.Err() != nil
			return out
		case tok.Done:
			out.completed = true
			if rest := sc.Finalize().Text; rest != "" {
				if err := chunk(rest, false); err != nil {
					log.Debug("sending final chunk", zap.Error(err))
				}
			}
			return out
		}

		var sendErr error
		switch ev := tok.Event.(type) {
		case entities.Thinking:
			sendErr = chunk("", true)
		case entities.Chunk:
			res := sc.Feed(ev.Text)
			if res.EnteredPreamble {
				sendErr = chunk("", true)
			}
			if sendErr == nil && res.Text != "" {
				sendErr = chunk(res.Text, false)
			}
			if sendErr == nil && res.PayloadStarted {
				sendErr = chunk(uc.cfg.PayloadNotice, false)
			}
		case entities.Signal:
			p := ev.Payload
			out.signal = &p
		}
		if sendErr != nil {
			out.err = sendErr
			out.clientGone = true
			return out
		}
	}
}

func (uc *ChatUseCase) linkedStep(ctx context.Context, sessionID string) (entities.Step, bool) {
	if uc.steps == nil {
		return entities.Step{}, false
	}
	step, ok, err := uc.steps.StepBySession(ctx, sessionID)
	if err != nil {
		uc.log.Warn("looking up session step", zap.String("session_id", sessionID), zap.Error(err))
		return entities.Step{}, false
	}
	return step, ok
}

// history replays the session for the model with preambles removed. The
// current user turn is always last, even when persisting it failed.
func (uc *ChatUseCase) history(ctx context.Context, log *zap.Logger, current entities.ConversationTurn) []entities.ConversationTurn {
	stored, err := uc.turns.ListTurns(ctx, current.SessionID)
	if err != nil {
		log.Warn("listing session turns", zap.Error(err))
	}

	out := make([]entities.ConversationTurn, 0, len(stored)+1)
	for _, t := range stored {
		if t.ID == current.ID {
			continue
		}
		if t.Role == entities.RoleAssistant {
			t.Content = uc.cfg.Scanner.StripPreamble(t.Content)
		}
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		out = append(out, t)
	}
	return append(out, current)
}

func (uc *ChatUseCase) handOffArtifacts(ctx context.Context, log *zap.Logger, sessionID, messageID, raw string) int {
	files := extractor.CodeArtifacts(raw)
	if len(files) == 0 {
		log.Info("build response carried no code artifacts")
		return 0
	}
	if uc.artifacts == nil {
		return len(files)
	}
	build, err := uc.artifacts.Submit(ctx, sessionID, messageID, files)
	if err != nil {
		log.Warn("submitting artifacts", zap.Int("files", len(files)), zap.Error(err))
	} else {
		log.Info("artifacts submitted", zap.Int("files", len(files)), zap.String("status", build.Status))
	}
	return len(files)
}

func moderationInfo(r entities.Route) entities.ModerationInfo {
	agents := []string{}
	if r.Agent != "" {
		agents = append(agents, r.Agent)
	}
	deliverables := r.Deliverables
	if deliverables == nil {
		deliverables = []string{}
	}
	return entities.ModerationInfo{
		Agents:       agents,
		Reasoning:    r.Reasoning,
		PrimaryAgent: r.Agent,
		EdenLevel:    string(r.Level),
		Deliverables: deliverables,
	}
}
