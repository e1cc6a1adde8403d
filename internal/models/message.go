package models

import "time"

// Message represents an individual communication entry within a session. It is
// immutable once created; streaming assembly happens on StreamingMessage and
// only the finalized result becomes a Message.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamingMessage is the mutable, in-progress representation of an assistant
// reply being assembled from stream events. At most one exists per active
// stream; it is owned exclusively by the consumer that created it.
type StreamingMessage struct {
	Message

	IsStreaming bool
	// Progress is a best-effort fraction in [0,1] when known, or nil.
	Progress *float64
}

// Finalize converts the in-progress message into an immutable Message,
// dropping the streaming fields.
func (s StreamingMessage) Finalize() Message {
	return s.Message
}

// Streaming display states used by the web interface.
const (
	StreamingStateLoading   = "loading"
	StreamingStateStreaming = "streaming"
	StreamingStateEnded     = "ended"
)

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message authored by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message authored by the assistant.
	RoleAssistant Role = "assistant"
)
