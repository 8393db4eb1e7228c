package entities

import "time"

// StreamEvent is the normalized event an upstream model adapter emits.
// The set is closed: Thinking, Chunk and Signal are the only implementations.
type StreamEvent interface {
	streamEvent()
}

// Thinking marks that the provider is in a hidden reasoning phase.
type Thinking struct{}

// Chunk carries a fragment of response text, split at arbitrary boundaries.
type Chunk struct {
	Text string
}

// Signal carries a deliverable detected over the full response. Adapters
// emit it at most once, after the provider stream completes.
type Signal struct {
	Payload DeliverablePayload
}

func (Thinking) streamEvent() {}
func (Chunk) streamEvent()    {}
func (Signal) streamEvent()   {}

// Outward event names, in the order a request emits them.
const (
	EventModerationInfo    = "moderation_info"
	EventAssistantChunk    = "assistant_chunk"
	EventDeliverableSignal = "deliverable_signal"
	EventAssistantMessage  = "assistant_message"
	EventError             = "error"
	EventDone              = "done"
)

// AssistantChunk is one piece of live output. Thinking chunks carry no
// content and only drive the client's working indicator.
type AssistantChunk struct {
	ID         string `json:"id"`
	Agent      string `json:"agent"`
	Content    string `json:"content"`
	IsThinking bool   `json:"isThinking"`
}

// MessageMetadata describes how a final message was produced.
type MessageMetadata struct {
	Model         string    `json:"model"`
	EdenLevel     string    `json:"eden_level"`
	Deliverable   string    `json:"deliverable,omitempty"`
	DocumentKey   string    `json:"document_key,omitempty"`
	ArtifactCount int       `json:"artifact_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// AssistantMessage is the final visible text of a completed response.
type AssistantMessage struct {
	ID       string          `json:"id"`
	Agent    string          `json:"agent"`
	Content  string          `json:"content"`
	Metadata MessageMetadata `json:"metadata"`
}

// ErrorEvent replaces AssistantMessage when the response failed.
type ErrorEvent struct {
	Content string `json:"content"`
	Error   string `json:"error"`
}

// DoneEvent terminates every request.
type DoneEvent struct {
	MessageID string `json:"message_id,omitempty"`
}
