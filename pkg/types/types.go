package types

import "github.com/90rdon/Nubela-Tasks/internal/core/tasks"

type CreateSessionReq struct {
	Locale string `json:"locale"`
	Voice  string `json:"voice"`
}

type CreateSessionResp struct {
	SessionID string `json:"session_id"`
	WSURL     string `json:"ws_url"`
}

type SummaryResp struct {
	SessionID      string `json:"session_id"`
	FramesStreamed int64  `json:"frames_streamed"`
	ToolCalls      int64  `json:"tool_calls"`
	Interruptions  int64  `json:"interruptions"`
}

type CreateTaskReq struct {
	Title string `json:"title"`
}

type UpdateTaskReq struct {
	Done *bool `json:"done"`
}

// ClientControl is a text frame from the browser on the stream socket.
// Binary frames carry raw little-endian float32 microphone samples.
type ClientControl struct {
	Type       string `json:"type"` // "start" or "stop"
	MicGranted bool   `json:"mic_granted"`
}

// Server-to-client stream messages, discriminated by Type.

type StatusMsg struct {
	Type  string `json:"type"` // "status"
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

type VolumeMsg struct {
	Type  string  `json:"type"` // "volume"
	Level float64 `json:"level"`
}

type AudioMsg struct {
	Type string `json:"type"` // "audio"
	Data string `json:"data"` // base64 s16le PCM
	Rate int    `json:"rate"`
}

type InterruptedMsg struct {
	Type string `json:"type"` // "interrupted"
}

type TranscriptMsg struct {
	Type string `json:"type"` // "transcript"
	Role string `json:"role"`
	Text string `json:"text"`
}

type TasksMsg struct {
	Type  string       `json:"type"` // "tasks"
	Tasks []tasks.Task `json:"tasks"`
}
