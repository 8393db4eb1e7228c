package usecases

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/domain/ports"
)

type chatFixture struct {
	uc        *ChatUseCase
	model     *scriptedModel
	registry  *fakeRegistry
	turns     *memTurns
	steps     *memSteps
	renderer  *fakeRenderer
	docs      *fakeDocuments
	artifacts *fakeArtifacts
}

func newChatFixture(t *testing.T, model *scriptedModel, steps ...entities.Step) *chatFixture {
	t.Helper()
	f := &chatFixture{
		model:     model,
		registry:  &fakeRegistry{model: model},
		turns:     &memTurns{},
		steps:     newMemSteps(steps...),
		renderer:  &fakeRenderer{},
		docs:      &fakeDocuments{},
		artifacts: &fakeArtifacts{},
	}
	log := zaptest.NewLogger(t)
	prompts := &fakePrompts{levels: testLevels}
	f.uc = NewChatUseCase(ChatDeps{
		Models:     f.registry,
		Turns:      f.turns,
		Steps:      f.steps,
		Prompts:    prompts,
		Router:     NewRouter(prompts, "llama3.2", "claude-sonnet-4-5"),
		Dispatcher: NewDeliverableDispatcher(f.renderer, f.docs, f.steps, log),
		Artifacts:  f.artifacts,
	}, ChatConfig{StreamTimeout: 2 * time.Second}, log)
	return f
}

func (f *chatFixture) send(t *testing.T, req entities.ChatRequest) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	require.NoError(t, f.uc.HandleMessage(context.Background(), req, sink))
	return sink
}

func TestChat_RejectsEmptyRequest(t *testing.T) {
	f := newChatFixture(t, &scriptedModel{})
	sink := &recordingSink{}

	err := f.uc.HandleMessage(context.Background(), entities.ChatRequest{SessionID: "s1", Content: "  "}, sink)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, sink.events)
}

func TestChat_PlainResponseEventOrder(t *testing.T) {
	f := newChatFixture(t, &scriptedModel{chunks: []string{"Hola, ", "cuéntame ", "tu idea."}})

	sink := f.send(t, entities.ChatRequest{SessionID: "s1", Content: "hola"})

	assert.Equal(t, []string{
		entities.EventModerationInfo,
		entities.EventAssistantChunk,
		entities.EventAssistantMessage,
		entities.EventDone,
	}, sink.names())
	assert.Equal(t, "Hola, cuéntame tu idea.", sink.visible())

	info := sink.of(entities.EventModerationInfo)[0].data.(entities.ModerationInfo)
	assert.Equal(t, "idea", info.EdenLevel)
	assert.Equal(t, "Ideador", info.PrimaryAgent)
	assert.Equal(t, []string{"Ideador"}, info.Agents)

	msg := sink.of(entities.EventAssistantMessage)[0].data.(entities.AssistantMessage)
	assert.Equal(t, "Hola, cuéntame tu idea.", msg.Content)
	assert.Equal(t, "llama3.2", msg.Metadata.Model)

	done := sink.of(entities.EventDone)[0].data.(entities.DoneEvent)
	assert.Equal(t, msg.ID, done.MessageID)

	require.Len(t, f.turns.bySession("s1", entities.RoleUser), 1)
	assistant := f.turns.bySession("s1", entities.RoleAssistant)
	require.Len(t, assistant, 1)
	assert.Equal(t, "Hola, cuéntame tu idea.", assistant[0].Content)
	assert.Equal(t, "Ideador", assistant[0].AgentLabel)
}

func TestChat_LandingPageBuildsArtifacts(t *testing.T) {
	text := "Aquí tienes tu landing page:\n```html\n<!DOCTYPE html>...\n```"
	f := newChatFixture(t, &scriptedModel{chunks: []string{text[:20], text[20:41], text[41:]}})

	sink := f.send(t, entities.ChatRequest{SessionID: "s1", Content: "hazme una landing page", Model: "llama3.2"})

	assert.Empty(t, sink.of(entities.EventDeliverableSignal))
	assert.Equal(t, text, sink.visible())
	assert.Equal(t, []string{"claude-sonnet-4-5"}, f.registry.asked)

	require.Len(t, f.artifacts.submitted, 1)
	files := f.artifacts.submitted[0]
	require.Len(t, files, 1)
	assert.Equal(t, "html", files[0].LanguageTag)

	msg := sink.of(entities.EventAssistantMessage)[0].data.(entities.AssistantMessage)
	assert.Equal(t, 1, msg.Metadata.ArtifactCount)
	assert.Equal(t, text, msg.Content)
}

func TestChat_SplitDeliverableFence(t *testing.T) {
	model := &scriptedModel{chunks: []string{
		"Aquí está tu plan.\n```json\n{\"deliverable_title\": \"Plan\"",
		`, "deliverable_content": "# Plan\n\nBody", "deliverable_ready": true}` + "\n```",
	}}
	f := newChatFixture(t, model, entities.Step{SessionID: "s1", ProjectID: "p1", Phase: 1, Level: "idea"})

	sink := f.send(t, entities.ChatRequest{SessionID: "s1", Content: "listo"})

	visible := sink.visible()
	assert.NotContains(t, visible, "deliverable")
	assert.NotContains(t, visible, "```json")
	assert.Contains(t, visible, "Aquí está tu plan.\n")

	signals := sink.of(entities.EventDeliverableSignal)
	require.Len(t, signals, 1)
	payload := signals[0].data.(entities.DeliverablePayload)
	assert.Equal(t, "Plan", payload.Title)
	assert.Equal(t, "# Plan\n\nBody", payload.Content)

	assert.Equal(t, []string{
		entities.EventModerationInfo,
		entities.EventAssistantChunk,
		entities.EventDeliverableSignal,
		entities.EventAssistantMessage,
		entities.EventDone,
	}, sink.names())

	require.Len(t, f.steps.completed, 1)
	msg := sink.of(entities.EventAssistantMessage)[0].data.(entities.AssistantMessage)
	assert.Equal(t, "Plan", msg.Metadata.Deliverable)
	assert.Equal(t, "s1/plan-"+msg.ID+".pdf", msg.Metadata.DocumentKey)
	assert.Equal(t, "Aquí está tu plan.\n", msg.Content)

	assistant := f.turns.bySession("s1", entities.RoleAssistant)
	require.Len(t, assistant, 1)
	assert.Contains(t, assistant[0].Content, `"deliverable_ready": true`, "raw payload is kept for audit")
}

func TestChat_PayloadNoticeFollowsVisiblePrefix(t *testing.T) {
	model := &scriptedModel{chunks: []string{"Listo.", "\n```json\n{\"deliverable_title\": \"X\", \"deliverable_ready\": true}\n```"}}
	f := newChatFixture(t, model)

	sink := f.send(t, entities.ChatRequest{SessionID: "s1", Content: "ok"})

	chunks := sink.of(entities.EventAssistantChunk)
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1].data.(entities.AssistantChunk)
	assert.Equal(t, defaultPayloadNotice, last.Content)
}

func TestChat_UnclosedPreambleNeverEmpty(t *testing.T) {
	f := newChatFixture(t, &scriptedModel{chunks: []string{"<think>", "Estoy pensando en tu pregunta"}})

	sink := f.send(t, entities.ChatRequest{SessionID: "s1", Content: "hola"})

	assert.Equal(t, "Estoy pensando en tu pregunta", sink.visible())
	msg := sink.of(entities.EventAssistantMessage)[0].data.(entities.AssistantMessage)
	assert.NotEmpty(t, msg.Content)

	first := sink.of(entities.EventAssistantChunk)[0].data.(entities.AssistantChunk)
	assert.True(t, first.IsThinking)
	assert.Empty(t, first.Content)
}

func TestChat_MalformedDeliverableRecovered(t *testing.T) {
	model := &scriptedModel{chunks: []string{
		"Tu canvas:\n```json\n",
		`{"deliverable_title": "Canvas", "deliverable_content": "El \"MVP\" y "más"\nfin", "deliverable_ready": true}`,
		"\n```",
	}}
	f := newChatFixture(t, model)

	sink := f.send(t, entities.ChatRequest{SessionID: "s1", Content: "ok"})

	signals := sink.of(entities.EventDeliverableSignal)
	require.Len(t, signals, 1)
	payload := signals[0].data.(entities.DeliverablePayload)
	assert.Equal(t, "Canvas", payload.Title)
	assert.Equal(t, "El \"MVP\" y \"más\"\nfin", payload.Content)
}

func TestChat_NativeThinkingForwarded(t *testing.T) {
	f := newChatFixture(t, &scriptedModel{thinking: true, chunks: []string{"Respuesta"}})

	sink := f.send(t, entities.ChatRequest{SessionID: "s1", Content: "hola"})

	chunks := sink.of(entities.EventAssistantChunk)
	require.Len(t, chunks, 2)
	assert.True(t, chunks[0].data.(entities.AssistantChunk).IsThinking)
	assert.Equal(t, "Respuesta", chunks[1].data.(entities.AssistantChunk).Content)
}

func TestChat_UpstreamErrorEndsWithErrorAndDone(t *testing.T) {
	model := &scriptedModel{
		chunks:    []string{"Parcial"},
		failAfter: ports.NewStatusError("scripted", http.StatusTooManyRequests, "slow down"),
	}
	f := newChatFixture(t, model, entities.Step{SessionID: "s1", Level: "idea"})

	sink := f.send(t, entities.ChatRequest{SessionID: "s1", Content: "hola"})

	names := sink.names()
	assert.Equal(t, entities.EventError, names[len(names)-2])
	assert.Equal(t, entities.EventDone, names[len(names)-1])
	assert.Empty(t, sink.of(entities.EventAssistantMessage))

	ev := sink.of(entities.EventError)[0].data.(entities.ErrorEvent)
	assert.Equal(t, "upstream_rate_limited", ev.Error)
	assert.NotContains(t, ev.Content, "slow down")

	assert.Empty(t, f.steps.completed)
	assistant := f.turns.bySession("s1", entities.RoleAssistant)
	require.Len(t, assistant, 1, "partial text is persisted")
	assert.Equal(t, "Parcial", assistant[0].Content)
}

func TestChat_DroppedStreamNeverDispatches(t *testing.T) {
	model := &scriptedModel{
		chunks: []string{`{"deliverable_title": "Plan", "deliverable_content": "x", "deliverable_ready": true}`},
		drop:   true,
	}
	f := newChatFixture(t, model, entities.Step{SessionID: "s1"})

	sink := f.send(t, entities.ChatRequest{SessionID: "s1", Content: "hola"})

	ev := sink.of(entities.EventError)
	require.Len(t, ev, 1)
	assert.Equal(t, "upstream_interrupted", ev[0].data.(entities.ErrorEvent).Error)
	assert.Empty(t, sink.of(entities.EventDeliverableSignal))
	assert.Empty(t, f.steps.completed)
	assert.Zero(t, f.renderer.calls)
}

func TestChat_UnknownModel(t *testing.T) {
	f := newChatFixture(t, nil)
	f.registry.model = nil

	sink := f.send(t, entities.ChatRequest{SessionID: "s1", Content: "hola"})

	assert.Equal(t, []string{entities.EventModerationInfo, entities.EventError, entities.EventDone}, sink.names())
}

func TestChat_ClientGoneAbortsWithoutDispatch(t *testing.T) {
	model := &scriptedModel{chunks: []string{
		"uno ", "dos ", "tres ",
		`{"deliverable_title": "Plan", "deliverable_content": "x", "deliverable_ready": true}`,
	}}
	f := newChatFixture(t, model, entities.Step{SessionID: "s1"})
	// moderation_info and the first chunk succeed, the second chunk fails.
	sink := &recordingSink{failOn: 3}

	require.NoError(t, f.uc.HandleMessage(context.Background(), entities.ChatRequest{SessionID: "s1", Content: "hola"}, sink))

	assert.Empty(t, sink.of(entities.EventError))
	assert.Empty(t, sink.of(entities.EventDeliverableSignal))
	assert.Empty(t, f.steps.completed)
	assert.Zero(t, f.renderer.calls)
}

func TestChat_CancelledContextAborts(t *testing.T) {
	model := &scriptedModel{chunks: []string{"hola"}, block: true}
	f := newChatFixture(t, model)
	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	require.NoError(t, f.uc.HandleMessage(ctx, entities.ChatRequest{SessionID: "s1", Content: "hola"}, sink))

	assert.Empty(t, sink.of(entities.EventError))
	assert.Empty(t, sink.of(entities.EventAssistantMessage))
	assert.Len(t, sink.of(entities.EventDone), 1)
}

func TestChat_StreamTimeoutReported(t *testing.T) {
	model := &scriptedModel{chunks: []string{"hola"}, block: true}
	f := newChatFixture(t, model)
	f.uc.cfg.StreamTimeout = 30 * time.Millisecond

	sink := f.send(t, entities.ChatRequest{SessionID: "s1", Content: "hola"})

	ev := sink.of(entities.EventError)
	require.Len(t, ev, 1)
	assert.Equal(t, "upstream_unavailable", ev[0].data.(entities.ErrorEvent).Error)
}

func TestChat_HistoryStripsPreambleAndEndsWithUserTurn(t *testing.T) {
	model := &scriptedModel{chunks: []string{"ok"}}
	f := newChatFixture(t, model)
	f.turns.turns = []entities.ConversationTurn{
		{ID: "t1", SessionID: "s1", Role: entities.RoleUser, Content: "primera"},
		{ID: "t2", SessionID: "s1", Role: entities.RoleAssistant, Content: "<think>secreto</think>respuesta"},
		{ID: "t3", SessionID: "other", Role: entities.RoleUser, Content: "ajeno"},
	}

	f.send(t, entities.ChatRequest{SessionID: "s1", Content: "segunda"})

	reqs := model.requests()
	require.Len(t, reqs, 1)
	turns := reqs[0].Turns
	require.Len(t, turns, 3)
	assert.Equal(t, "primera", turns[0].Content)
	assert.Equal(t, "respuesta", turns[1].Content)
	assert.Equal(t, "segunda", turns[2].Content)
	assert.Equal(t, "system:idea", reqs[0].SystemPrompt)
}

func TestChat_HistoryKeepsUserTurnWhenStoreFails(t *testing.T) {
	model := &scriptedModel{chunks: []string{"ok"}}
	f := newChatFixture(t, model)
	f.turns.insertErr = assert.AnError

	sink := f.send(t, entities.ChatRequest{SessionID: "s1", Content: "hola"})

	require.Len(t, model.requests()[0].Turns, 1)
	assert.Equal(t, "hola", model.requests()[0].Turns[0].Content)
	assert.Len(t, sink.of(entities.EventAssistantMessage), 1)
}

func TestChat_PriorPhaseSummaryPrepended(t *testing.T) {
	model := &scriptedModel{chunks: []string{"ok"}}
	f := newChatFixture(t, model,
		entities.Step{SessionID: "s-idea", ProjectID: "p1", Phase: 1, Status: entities.StepCompleted, DeliverableTitle: "Lean Canvas"},
		entities.Step{SessionID: "s-diseno", ProjectID: "p1", Phase: 2, Level: "diseno"},
	)
	f.turns.turns = []entities.ConversationTurn{
		{SessionID: "s-idea", Role: entities.RoleAssistant, Content: "El problema es la logística."},
	}

	f.send(t, entities.ChatRequest{SessionID: "s-diseno", Content: "sigamos"})

	req := model.requests()[0]
	assert.Equal(t, "diseno", string(req.Level))
	assert.Equal(t, "gemini-2.5-flash", req.Model)
	require.Len(t, req.Turns, 2)
	assert.Equal(t, entities.RoleUser, req.Turns[0].Role)
	assert.Contains(t, req.Turns[0].Content, "El problema es la logística.")
	assert.Equal(t, "sigamos", req.Turns[1].Content)
}
