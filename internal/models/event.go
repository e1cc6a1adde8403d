package models

// EventType tags a StreamEvent on the wire.
type EventType string

const (
	// EventToken carries a chunk of assistant text in Data.
	EventToken EventType = "token"
	// EventDone terminates a stream. Data is always empty.
	EventDone EventType = "done"
	// EventError carries a failure message in Data. It is always followed by
	// exactly one EventDone.
	EventError EventType = "error"
)

// StreamEvent is one unit of server-to-client push data. Events are transient
// wire values and are never persisted.
//
// A well-formed stream is exactly: zero or more token events, then either a
// single done event or a single error event followed by a single done event.
type StreamEvent struct {
	Type EventType `json:"type"`
	Data string    `json:"data"`
}

// TokenEvent builds a token event carrying the given chunk.
func TokenEvent(data string) StreamEvent {
	return StreamEvent{Type: EventToken, Data: data}
}

// DoneEvent builds the terminal done event.
func DoneEvent() StreamEvent {
	return StreamEvent{Type: EventDone}
}

// ErrorEvent builds an error event carrying the failure message.
func ErrorEvent(msg string) StreamEvent {
	return StreamEvent{Type: EventError, Data: msg}
}
