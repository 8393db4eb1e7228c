// Package ports defines interfaces for external dependencies.
// Clean Architecture: These are the boundaries - usecases depend on these abstractions,
// not concrete implementations. Adapters implement these interfaces.
package ports

import (
	"context"
	"time"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
)

// StreamRequest is everything an adapter needs to open one provider stream.
type StreamRequest struct {
	Model        string
	SystemPrompt string
	Turns        []entities.ConversationTurn
	Level        entities.LevelContext
}

// StreamToken is one item on an adapter's output channel.
// Exactly one token with Done or Error set ends a healthy stream. A channel
// that closes without either means the upstream connection dropped.
type StreamToken struct {
	Event entities.StreamEvent
	Done  bool
	Error error
}

// ModelStream normalizes one provider's native streaming protocol.
type ModelStream interface {
	// Provider names the upstream, for logs and errors.
	Provider() string

	// Stream opens the provider stream. A non-nil error means no stream was
	// opened; once the channel is returned, failures arrive as tokens.
	Stream(ctx context.Context, req StreamRequest) (<-chan StreamToken, error)
}

// ModelRegistry picks the adapter that serves a model name.
type ModelRegistry interface {
	For(model string) (ModelStream, error)
}

// TurnStore persists conversation turns.
type TurnStore interface {
	// InsertTurn appends a turn.
	InsertTurn(ctx context.Context, turn entities.ConversationTurn) error

	// ListTurns returns a session's turns ordered by creation time.
	ListTurns(ctx context.Context, sessionID string) ([]entities.ConversationTurn, error)
}

// StepStore reads and completes project steps.
type StepStore interface {
	// StepBySession returns the step linked to a session, if any.
	StepBySession(ctx context.Context, sessionID string) (entities.Step, bool, error)

	// CompletedPriorSteps lists a project's completed steps with a phase
	// lower than beforePhase, ordered by phase.
	CompletedPriorSteps(ctx context.Context, projectID string, beforePhase int) ([]entities.Step, error)

	// MarkStepCompleted completes the step linked to a session. Completing an
	// already completed step is a no-op that reports alreadyCompleted.
	MarkStepCompleted(ctx context.Context, sessionID string, rec entities.DeliverableRecord) (alreadyCompleted bool, err error)
}

// PDFRenderer turns a titled markdown document into PDF bytes.
type PDFRenderer interface {
	Render(ctx context.Context, title, markdown string) ([]byte, error)
}

// DocumentStore keeps rendered deliverable files.
type DocumentStore interface {
	// Put stores content under key and returns a retrievable location.
	Put(ctx context.Context, key string, content []byte, contentType string) (string, error)
}

// ArtifactBuild is the cached state of one artifact hand-off.
type ArtifactBuild struct {
	SessionID   string                  `json:"session_id"`
	MessageID   string                  `json:"message_id"`
	Files       []entities.CodeArtifact `json:"files"`
	Status      string                  `json:"status"`
	Detail      string                  `json:"detail,omitempty"`
	SubmittedAt time.Time               `json:"submitted_at"`
}

// ArtifactSink receives extracted code artifacts for the external build
// pipeline and remembers the latest build per session.
type ArtifactSink interface {
	Submit(ctx context.Context, sessionID, messageID string, files []entities.CodeArtifact) (ArtifactBuild, error)
	Lookup(sessionID string) (ArtifactBuild, bool)
}

// Level describes one methodology phase.
type Level struct {
	ID           entities.LevelContext `yaml:"id" json:"id"`
	Phase        int                   `yaml:"phase" json:"phase"`
	Agent        string                `yaml:"agent" json:"agent"`
	Model        string                `yaml:"model,omitempty" json:"model,omitempty"`
	Keywords     []string              `yaml:"keywords" json:"keywords"`
	Deliverables []string              `yaml:"deliverables" json:"deliverables"`
	Reasoning    string                `yaml:"reasoning" json:"reasoning"`
	Build        bool                  `yaml:"build,omitempty" json:"build,omitempty"`
	Default      bool                  `yaml:"default,omitempty" json:"default,omitempty"`
}

// PromptSource exposes the level catalogue and system prompts.
type PromptSource interface {
	// Levels returns the keyword categories in match order.
	Levels() []Level

	// SystemPrompt returns the system prompt governing a level.
	SystemPrompt(level entities.LevelContext) string
}

// EventSink is the outward event stream of one request.
type EventSink interface {
	Send(event string, data any) error
}
