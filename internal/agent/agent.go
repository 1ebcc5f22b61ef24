package agent

import "context"

type EventType string

const (
	EventStart    EventType = "start"
	EventContent  EventType = "content"
	EventToolCall EventType = "tool_call"
	EventEnd      EventType = "end"
	EventError    EventType = "error"
)

// Event is one frame of a streamed chat response. Only the fields relevant
// to its type are set; the rest stay empty and drop out of the JSON encoding.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	AgentName string    `json:"agentName,omitempty"`
	Content   string    `json:"content,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Arguments string    `json:"arguments,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Chat is a conversation handle bound to a single session id. The same
// handle must be reused for every message in the session; that reuse is what
// carries conversational memory between turns.
type Chat interface {
	// Send runs one prompt to completion and returns the full response text.
	Send(ctx context.Context, message string) (string, error)

	// Stream runs one prompt, emitting content and tool_call events as they
	// arrive. Terminal framing belongs to the caller: a nil return means the
	// stream finished, a non-nil error means it failed mid-flight.
	Stream(ctx context.Context, message string, emit func(Event)) error
}

// Handle is a resolved agent, able to mint chat handles for new sessions.
type Handle interface {
	Descriptor() Descriptor
	NewChat(sessionID string) Chat
}
