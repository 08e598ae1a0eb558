package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/90rdon/Nubela-Tasks/internal/audio"
)

// State is the session lifecycle. Closed and Errored are terminal per
// connection attempt; retries mean building a fresh Session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateErrored    State = "errored"
)

const (
	defaultConnectTimeout = 15 * time.Second

	// speakingLevel is the synthetic volume emitted while model audio is
	// arriving, distinct from measured microphone RMS.
	speakingLevel = 0.3
)

// Callbacks is the surface the presentation layer consumes. All fields are
// optional.
type Callbacks struct {
	OnState       func(state State, err error)
	OnVolume      func(level float64)
	OnTranscript  func(role, text string)
	OnInterrupted func()
	OnToolResult  func(name string, failed bool)
}

// Config carries per-session settings.
type Config struct {
	Model             string
	Voice             string
	SystemInstruction string
	ConnectTimeout    time.Duration
}

// Session is the live audio session manager. It owns the microphone capture
// pipeline, the playback queue, tool-call dispatch and the transport
// connection lifecycle.
type Session struct {
	cfg       Config
	transport Transport
	capture   CaptureSource
	tools     *ToolRegistry
	queue     *Queue
	cb        Callbacks
	logger    *slog.Logger

	mu     sync.Mutex
	state  State
	conn   Conn
	closed bool

	closeOnce sync.Once
}

// NewSession wires a session manager. transport, capture, tools and sink are
// required; clock may be nil for wall time.
func NewSession(cfg Config, transport Transport, capture CaptureSource, tools *ToolRegistry, clock Clock, sink Sink, cb Callbacks, logger *slog.Logger) *Session {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if clock == nil {
		clock = NewClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:       cfg,
		transport: transport,
		capture:   capture,
		tools:     tools,
		queue:     NewQueue(clock, sink),
		cb:        cb,
		logger:    logger,
		state:     StateIdle,
	}
	s.queue.SetOnDrain(func() { s.emitVolume(0) })
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Queue exposes the playback queue, mainly for tests and diagnostics.
func (s *Session) Queue() *Queue {
	return s.queue
}

// Connect acquires the microphone, dials the realtime transport with the
// declared tool set and system instruction, and starts the capture pump and
// the event loop. Microphone denial and transport failure are both terminal
// for this attempt.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return errors.New("live: session already started")
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.emitState(StateConnecting, nil)

	frames, err := s.capture.Start(ctx)
	if err != nil {
		s.shutdown(StateErrored, err)
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	conn, err := s.transport.Connect(dialCtx, SessionConfig{
		Model:             s.cfg.Model,
		SystemInstruction: s.cfg.SystemInstruction,
		Voice:             s.cfg.Voice,
		Tools:             s.tools.Declarations(),
	})
	if err != nil {
		var terr *TransportError
		if !errors.As(err, &terr) {
			err = &TransportError{Op: "connect", Err: err}
		}
		s.shutdown(StateErrored, err)
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return errors.New("live: session closed during connect")
	}
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()
	s.emitState(StateOpen, nil)

	go s.pumpCapture(frames)
	go s.eventLoop(conn)
	return nil
}

// Disconnect tears the session down: capture stops, playback is cancelled
// and the transport connection is closed explicitly. Idempotent and safe
// from any state. In-flight tool handlers are not cancelled; their responses
// become no-ops.
func (s *Session) Disconnect() {
	s.shutdown(StateClosed, nil)
}

func (s *Session) shutdown(final State, err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		conn := s.conn
		s.state = final
		s.mu.Unlock()

		s.capture.Stop()
		s.queue.Close()
		if conn != nil {
			_ = conn.Close()
		}
		s.emitState(final, err)
	})
}

// pumpCapture forwards microphone blocks in capture order: RMS to the volume
// callback, then encode and send. Never blocks on server message handling.
func (s *Session) pumpCapture(frames <-chan []float32) {
	for block := range frames {
		s.mu.Lock()
		closed := s.closed
		conn := s.conn
		s.mu.Unlock()
		if closed {
			return
		}
		s.emitVolume(audio.RMS(block))
		if err := conn.SendAudioFrame(audio.Encode(block)); err != nil {
			s.logger.Warn("drop outbound audio frame", "err", err)
		}
	}
}

// eventLoop processes server events strictly in arrival order.
func (s *Session) eventLoop(conn Conn) {
	for ev := range conn.Events() {
		switch e := ev.(type) {
		case AudioEvent:
			s.handleAudio(e)
		case InterruptedEvent:
			s.queue.StopAll()
			if s.cb.OnInterrupted != nil {
				s.cb.OnInterrupted()
			}
		case ToolCallEvent:
			s.handleToolCalls(e.Calls)
		case TranscriptEvent:
			if s.cb.OnTranscript != nil {
				s.cb.OnTranscript(e.Role, e.Text)
			}
		case TurnCompleteEvent:
			// Playback drains on its own schedule; nothing to do here.
		case ErrorEvent:
			s.shutdown(StateErrored, &TransportError{Op: "stream", Err: e.Err})
			return
		}
	}
	// Remote closed the stream.
	s.Disconnect()
}

func (s *Session) handleAudio(e AudioEvent) {
	rate := e.SampleRate
	if rate <= 0 {
		rate = audio.OutputSampleRate
	}
	buf, err := audio.DecodeToBuffer(e.Data, rate)
	if err != nil {
		// Malformed frames are skipped, never fatal.
		s.logger.Warn("skip malformed audio frame", "err", err)
		return
	}
	s.queue.Schedule(buf)
	s.emitVolume(speakingLevel)
}

// handleToolCalls answers each call exactly once. Calls run concurrently;
// handler failure becomes an {error: message} payload instead of propagating.
func (s *Session) handleToolCalls(calls []ToolCall) {
	for _, call := range calls {
		go func(call ToolCall) {
			result, err := s.tools.Dispatch(context.Background(), call)
			resp := ToolResponse{ID: call.ID, Name: call.Name, Response: result}
			if err != nil {
				resp.Response = map[string]any{"error": err.Error()}
			}
			s.sendToolResponse(resp)
			if s.cb.OnToolResult != nil {
				s.cb.OnToolResult(call.Name, err != nil)
			}
		}(call)
	}
}

func (s *Session) sendToolResponse(resp ToolResponse) {
	s.mu.Lock()
	closed := s.closed
	conn := s.conn
	s.mu.Unlock()
	if closed || conn == nil {
		// Session torn down while the handler was running.
		return
	}
	if err := conn.SendToolResponse([]ToolResponse{resp}); err != nil {
		s.logger.Warn("drop tool response", "tool", resp.Name, "err", err)
	}
}

func (s *Session) emitState(state State, err error) {
	if s.cb.OnState != nil {
		s.cb.OnState(state, err)
	}
}

func (s *Session) emitVolume(level float64) {
	if s.cb.OnVolume != nil {
		s.cb.OnVolume(level)
	}
}
