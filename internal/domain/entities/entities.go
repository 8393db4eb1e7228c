// Package entities contains core business entities.
// These are the enterprise business rules - pure domain objects with no external dependencies.
package entities

import "time"

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one persisted message of a session.
// Turns are immutable once stored and only ever appended.
type ConversationTurn struct {
	ID         string
	SessionID  string
	Role       Role
	Content    string
	AgentLabel string
	CreatedAt  time.Time
}

// LevelContext identifies the methodology phase governing a turn.
// It selects the system prompt and, for some phases, the model.
type LevelContext string

// DeliverablePayload is the structured object a model embeds when a phase
// deliverable is complete.
type DeliverablePayload struct {
	Ready   bool   `json:"ready"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// CodeArtifact is one source file pulled out of free-form model output.
type CodeArtifact struct {
	RelativePath string `json:"relative_path"`
	Content      string `json:"content"`
	LanguageTag  string `json:"language_tag"`
}

// StepStatus is the bookkeeping state of a project step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
)

// Step is the project-step record linked to a chat session.
// It is owned by the project bookkeeping collaborator; the core only reads it
// and flips it to completed.
type Step struct {
	ID               string
	SessionID        string
	ProjectID        string
	Phase            int
	Level            LevelContext
	Status           StepStatus
	DeliverableTitle string
	DocumentKey      string
	CompletedAt      time.Time
}

// Completed reports whether the step is done.
func (s Step) Completed() bool {
	return s.Status == StepCompleted
}

// DeliverableRecord is what gets written onto a step when it completes.
type DeliverableRecord struct {
	Title       string
	DocumentKey string
}

// Route is the resolved (model, level) selection for one message.
type Route struct {
	Model          string
	Level          LevelContext
	Agent          string
	Reasoning      string
	Deliverables   []string
	BuildRequested bool
	Build          bool
}

// ModerationInfo is the selection summary sent to the client before streaming.
type ModerationInfo struct {
	Agents       []string `json:"agents"`
	Reasoning    string   `json:"reasoning"`
	PrimaryAgent string   `json:"primary_agent"`
	EdenLevel    string   `json:"eden_level"`
	Deliverables []string `json:"deliverables"`
}

// ChatRequest is one inbound user message.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Model     string `json:"model,omitempty"`
}
