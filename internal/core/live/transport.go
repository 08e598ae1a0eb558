package live

import (
	"context"
	"errors"
	"fmt"

	"github.com/90rdon/Nubela-Tasks/internal/audio"
)

// ErrPermission reports that the microphone capture source is denied or
// unavailable. Fatal for the current connection attempt.
var ErrPermission = errors.New("live: microphone permission denied")

// TransportError wraps connect-time and runtime failures from the realtime
// transport. Fatal for the current attempt; the manager does not retry.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("live transport error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("live transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ParamSchema describes one named tool parameter for the wire declaration.
type ParamSchema struct {
	Type        string
	Description string
}

// ToolDecl is the wire contract for a tool the model may invoke.
type ToolDecl struct {
	Name        string
	Description string
	Params      map[string]ParamSchema
	Required    []string
}

// SessionConfig carries everything the transport needs to establish a
// realtime session.
type SessionConfig struct {
	Model             string
	SystemInstruction string
	Voice             string
	Tools             []ToolDecl
}

// Conn is one established bidirectional streaming connection. Sends are
// fire-and-forget; the session manager must not block on them. Close must be
// safe to call more than once, and sends on a closed conn are no-ops.
type Conn interface {
	SendAudioFrame(blob audio.Blob) error
	SendToolResponse(responses []ToolResponse) error
	Events() <-chan ServerEvent
	Close() error
}

// Transport establishes realtime sessions. It is injected into the session
// manager so tests can substitute a fake.
type Transport interface {
	Connect(ctx context.Context, cfg SessionConfig) (Conn, error)
}

// CaptureSource is the microphone pipeline. Start returns a channel of
// fixed-size float32 sample blocks at the capture rate, or ErrPermission if
// the device is denied or unavailable. The channel closes when capture stops.
type CaptureSource interface {
	Start(ctx context.Context) (<-chan []float32, error)
	Stop()
}
