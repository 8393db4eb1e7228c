package usecases

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/domain/extractor"
	"github.com/0xcro3dile/edenchat/internal/domain/ports"
)

var testLevels = []ports.Level{
	{ID: "mvp", Phase: 5, Agent: "Builder", Keywords: []string{"landing page", "código", "mvp"}, Build: true, Reasoning: "build"},
	{ID: "idea", Phase: 1, Agent: "Ideador", Keywords: []string{"idea", "problema"}, Deliverables: []string{"Lean Canvas"}, Default: true, Reasoning: "idea"},
	{ID: "diseno", Phase: 2, Agent: "Diseñador", Model: "gemini-2.5-flash", Keywords: []string{"diseño", "prototipo"}, Deliverables: []string{"Prototipo"}},
	{ID: "validacion", Phase: 3, Agent: "Validador", Keywords: []string{"validar", "entrevista"}},
}

type fakePrompts struct {
	levels []ports.Level
}

func (f *fakePrompts) Levels() []ports.Level { return f.levels }

func (f *fakePrompts) SystemPrompt(level entities.LevelContext) string {
	return "system:" + string(level)
}

// memTurns implements ports.TurnStore for testing
type memTurns struct {
	mu        sync.Mutex
	turns     []entities.ConversationTurn
	insertErr error
}

func (m *memTurns) InsertTurn(ctx context.Context, t entities.ConversationTurn) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	return nil
}

func (m *memTurns) ListTurns(ctx context.Context, sessionID string) ([]entities.ConversationTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entities.ConversationTurn
	for _, t := range m.turns {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTurns) bySession(sessionID string, role entities.Role) []entities.ConversationTurn {
	all, _ := m.ListTurns(context.Background(), sessionID)
	var out []entities.ConversationTurn
	for _, t := range all {
		if t.Role == role {
			out = append(out, t)
		}
	}
	return out
}

// memSteps implements ports.StepStore for testing
type memSteps struct {
	mu        sync.Mutex
	steps     map[string]entities.Step
	completed []entities.DeliverableRecord
	markErr   error
}

func newMemSteps(steps ...entities.Step) *memSteps {
	m := &memSteps{steps: map[string]entities.Step{}}
	for _, s := range steps {
		m.steps[s.SessionID] = s
	}
	return m
}

func (m *memSteps) StepBySession(ctx context.Context, sessionID string) (entities.Step, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.steps[sessionID]
	return s, ok, nil
}

func (m *memSteps) CompletedPriorSteps(ctx context.Context, projectID string, beforePhase int) ([]entities.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entities.Step
	for _, s := range m.steps {
		if s.ProjectID == projectID && s.Phase < beforePhase && s.Completed() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phase < out[j].Phase })
	return out, nil
}

func (m *memSteps) MarkStepCompleted(ctx context.Context, sessionID string, rec entities.DeliverableRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return false, m.markErr
	}
	s, ok := m.steps[sessionID]
	if !ok {
		return false, ports.ErrNotFound
	}
	if s.Completed() {
		return true, nil
	}
	s.Status = entities.StepCompleted
	s.DeliverableTitle = rec.Title
	s.DocumentKey = rec.DocumentKey
	m.steps[sessionID] = s
	m.completed = append(m.completed, rec)
	return false, nil
}

// scriptedModel replays fixed fragments and, like the real adapters, appends
// a Signal when the full text carries a deliverable.
type scriptedModel struct {
	chunks   []string
	thinking bool
	// failAfter, when set, ends the stream with this error after the chunks.
	failAfter error
	// drop closes the channel without a terminal token.
	drop bool
	// block waits for cancellation after the chunks.
	block   bool
	openErr error

	mu  sync.Mutex
	got []ports.StreamRequest
}

func (m *scriptedModel) Provider() string { return "scripted" }

func (m *scriptedModel) Stream(ctx context.Context, req ports.StreamRequest) (<-chan ports.StreamToken, error) {
	m.mu.Lock()
	m.got = append(m.got, req)
	m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}

	ch := make(chan ports.StreamToken)
	go func() {
		defer close(ch)
		send := func(tok ports.StreamToken) bool {
			select {
			case ch <- tok:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if m.thinking && !send(ports.StreamToken{Event: entities.Thinking{}}) {
			return
		}
		var full strings.Builder
		for _, c := range m.chunks {
			full.WriteString(c)
			if !send(ports.StreamToken{Event: entities.Chunk{Text: c}}) {
				return
			}
		}
		switch {
		case m.drop:
			return
		case m.block:
			<-ctx.Done()
			send(ports.StreamToken{Error: ctx.Err()})
			return
		case m.failAfter != nil:
			send(ports.StreamToken{Error: m.failAfter})
			return
		}
		if p := extractor.Deliverable(full.String()); p != nil {
			if !send(ports.StreamToken{Event: entities.Signal{Payload: *p}}) {
				return
			}
		}
		send(ports.StreamToken{Done: true})
	}()
	return ch, nil
}

func (m *scriptedModel) requests() []ports.StreamRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.StreamRequest(nil), m.got...)
}

type fakeRegistry struct {
	model *scriptedModel
	asked []string
}

func (r *fakeRegistry) For(model string) (ports.ModelStream, error) {
	r.asked = append(r.asked, model)
	if r.model == nil {
		return nil, ports.ErrUnknownModel
	}
	return r.model, nil
}

type sentEvent struct {
	name string
	data any
}

// recordingSink implements ports.EventSink for testing
type recordingSink struct {
	mu     sync.Mutex
	events []sentEvent
	// failOn makes the nth Send (1-based) and every later one fail.
	failOn int
}

var errSinkClosed = errors.New("sink closed")

func (s *recordingSink) Send(name string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn > 0 && len(s.events)+1 >= s.failOn {
		s.events = append(s.events, sentEvent{name: "!" + name, data: data})
		return errSinkClosed
	}
	s.events = append(s.events, sentEvent{name: name, data: data})
	return nil
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.name == entities.EventAssistantChunk && len(out) > 0 && out[len(out)-1] == entities.EventAssistantChunk {
			continue
		}
		out = append(out, e.name)
	}
	return out
}

func (s *recordingSink) of(name string) []sentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentEvent
	for _, e := range s.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

// visible concatenates the content of non-thinking chunks.
func (s *recordingSink) visible() string {
	var b strings.Builder
	for _, e := range s.of(entities.EventAssistantChunk) {
		c := e.data.(entities.AssistantChunk)
		if !c.IsThinking {
			b.WriteString(c.Content)
		}
	}
	return b.String()
}

type fakeRenderer struct {
	err   error
	panic bool
	calls int
}

func (r *fakeRenderer) Render(ctx context.Context, title, markdown string) ([]byte, error) {
	r.calls++
	if r.panic {
		panic("renderer exploded")
	}
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-" + title), nil
}

type fakeDocuments struct {
	mu   sync.Mutex
	puts map[string][]byte
	err  error
}

func (d *fakeDocuments) Put(ctx context.Context, key string, content []byte, contentType string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.puts == nil {
		d.puts = map[string][]byte{}
	}
	d.puts[key] = content
	return "mem://" + key, nil
}

type fakeArtifacts struct {
	submitted [][]entities.CodeArtifact
}

func (f *fakeArtifacts) Submit(ctx context.Context, sessionID, messageID string, files []entities.CodeArtifact) (ports.ArtifactBuild, error) {
	f.submitted = append(f.submitted, files)
	return ports.ArtifactBuild{SessionID: sessionID, MessageID: messageID, Files: files, Status: "pending"}, nil
}

func (f *fakeArtifacts) Lookup(sessionID string) (ports.ArtifactBuild, bool) {
	return ports.ArtifactBuild{}, false
}
