package live

import "encoding/json"

// ServerEvent is a message received from the realtime transport. Events are
// delivered through a single ordered channel so the session processes them
// strictly in arrival order.
type ServerEvent interface {
	serverEvent() string
}

// AudioEvent carries one chunk of model speech as raw 16-bit PCM.
type AudioEvent struct {
	Data       []byte
	SampleRate int
}

func (AudioEvent) serverEvent() string { return "audio" }

// InterruptedEvent signals that the user barged in and all queued playback
// must be dropped.
type InterruptedEvent struct{}

func (InterruptedEvent) serverEvent() string { return "interrupted" }

// TurnCompleteEvent marks the end of a model turn.
type TurnCompleteEvent struct{}

func (TurnCompleteEvent) serverEvent() string { return "turn_complete" }

// ToolCallEvent carries one or more tool invocations requested by the model.
type ToolCallEvent struct {
	Calls []ToolCall
}

func (ToolCallEvent) serverEvent() string { return "tool_call" }

// TranscriptEvent carries speech-to-text for either side of the conversation.
type TranscriptEvent struct {
	Role string // "user" or "model"
	Text string
}

func (TranscriptEvent) serverEvent() string { return "transcript" }

// ErrorEvent reports a transport-level runtime failure. It is terminal for
// the session attempt.
type ErrorEvent struct {
	Err error
}

func (ErrorEvent) serverEvent() string { return "error" }

// ToolCall identifies a single model-requested tool invocation.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolResponse answers exactly one ToolCall. Response carries either the
// tool result or an {error: message} payload.
type ToolResponse struct {
	ID       string
	Name     string
	Response map[string]any
}
