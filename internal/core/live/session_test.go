package live

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/90rdon/Nubela-Tasks/internal/audio"
	"github.com/90rdon/Nubela-Tasks/internal/core/tasks"
)

type fakeCapture struct {
	mu      sync.Mutex
	frames  chan []float32
	denied  bool
	stopped bool
}

func (c *fakeCapture) Start(ctx context.Context) (<-chan []float32, error) {
	if c.denied {
		return nil, ErrPermission
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = make(chan []float32, 8)
	return c.frames, nil
}

func (c *fakeCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	if c.frames != nil {
		close(c.frames)
	}
}

func (c *fakeCapture) push(block []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.frames <- block
	}
}

type fakeConn struct {
	events chan ServerEvent

	mu        sync.Mutex
	frames    []audio.Blob
	responses []ToolResponse
	closed    bool

	closeOnce sync.Once
	respCh    chan ToolResponse
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan ServerEvent, 16),
		respCh: make(chan ToolResponse, 16),
	}
}

func (c *fakeConn) Events() <-chan ServerEvent { return c.events }

func (c *fakeConn) SendAudioFrame(blob audio.Blob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.frames = append(c.frames, blob)
	return nil
}

func (c *fakeConn) SendToolResponse(responses []ToolResponse) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("closed")
	}
	c.responses = append(c.responses, responses...)
	c.mu.Unlock()
	for _, r := range responses {
		c.respCh <- r
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.events) })
	return nil
}

func (c *fakeConn) sentResponses() []ToolResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ToolResponse(nil), c.responses...)
}

func (c *fakeConn) sentFrames() []audio.Blob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.Blob(nil), c.frames...)
}

type fakeTransport struct {
	conn *fakeConn
	err  error

	mu  sync.Mutex
	cfg SessionConfig
}

func (t *fakeTransport) Connect(ctx context.Context, cfg SessionConfig) (Conn, error) {
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	return t.conn, nil
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
	errs   []error
	ch     chan State
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{ch: make(chan State, 16)}
}

func (r *stateRecorder) record(s State, err error) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.ch <- s
}

func (r *stateRecorder) waitFor(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}

func newTestSession(t *testing.T, transport Transport, capture CaptureSource, rec *stateRecorder, cb Callbacks) *Session {
	t.Helper()
	store := tasks.NewStore()
	reg := NewToolRegistry(store, nil)
	if rec != nil {
		cb.OnState = rec.record
	}
	return NewSession(Config{Model: "test-model", Voice: "Puck"}, transport, capture, reg, newFakeClock(), &recordingSink{}, cb, nil)
}

func TestSessionConnectLifecycle(t *testing.T) {
	conn := newFakeConn()
	transport := &fakeTransport{conn: conn}
	capture := &fakeCapture{}
	rec := newStateRecorder()

	var volumes []float64
	var volMu sync.Mutex
	sess := newTestSession(t, transport, capture, rec, Callbacks{
		OnVolume: func(level float64) {
			volMu.Lock()
			volumes = append(volumes, level)
			volMu.Unlock()
		},
	})

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitFor(t, StateOpen)

	transport.mu.Lock()
	cfg := transport.cfg
	transport.mu.Unlock()
	if cfg.Model != "test-model" || cfg.Voice != "Puck" {
		t.Errorf("session config not forwarded: %+v", cfg)
	}
	if len(cfg.Tools) == 0 {
		t.Error("tool declarations missing from session config")
	}

	capture.push([]float32{0.5, -0.5, 0.5, -0.5})
	waitUntil(t, func() bool { return len(conn.sentFrames()) == 1 })

	frame := conn.sentFrames()[0]
	if frame.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("frame mime: %q", frame.MIMEType)
	}

	volMu.Lock()
	gotVolume := len(volumes) > 0 && volumes[0] > 0.4
	volMu.Unlock()
	if !gotVolume {
		t.Error("expected RMS volume callback before the frame was sent")
	}

	sess.Disconnect()
	rec.waitFor(t, StateClosed)
	if sess.State() != StateClosed {
		t.Fatalf("state: %v", sess.State())
	}
}

func TestSessionConnectMicDenied(t *testing.T) {
	transport := &fakeTransport{conn: newFakeConn()}
	capture := &fakeCapture{denied: true}
	rec := newStateRecorder()
	sess := newTestSession(t, transport, capture, rec, Callbacks{})

	err := sess.Connect(context.Background())
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("got %v, want ErrPermission", err)
	}
	rec.waitFor(t, StateErrored)
	if sess.State() != StateErrored {
		t.Fatalf("state: %v", sess.State())
	}
}

func TestSessionConnectTransportFailure(t *testing.T) {
	transport := &fakeTransport{err: errors.New("dial refused")}
	rec := newStateRecorder()
	sess := newTestSession(t, transport, &fakeCapture{}, rec, Callbacks{})

	err := sess.Connect(context.Background())
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("got %v, want TransportError", err)
	}
	rec.waitFor(t, StateErrored)
}

func TestSessionConnectTwice(t *testing.T) {
	transport := &fakeTransport{conn: newFakeConn()}
	rec := newStateRecorder()
	sess := newTestSession(t, transport, &fakeCapture{}, rec, Callbacks{})

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := sess.Connect(context.Background()); err == nil {
		t.Fatal("second Connect should fail")
	}
	sess.Disconnect()
}

func TestSessionToolCallsAnsweredExactlyOnce(t *testing.T) {
	conn := newFakeConn()
	transport := &fakeTransport{conn: conn}
	rec := newStateRecorder()

	var results sync.Map
	sess := newTestSession(t, transport, &fakeCapture{}, rec, Callbacks{
		OnToolResult: func(name string, failed bool) {
			results.Store(name, failed)
		},
	})
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitFor(t, StateOpen)

	conn.events <- ToolCallEvent{Calls: []ToolCall{
		{ID: "a", Name: "addTask", Args: json.RawMessage(`{"title":"buy milk"}`)},
		{ID: "b", Name: "nonsenseTool", Args: json.RawMessage(`{}`)},
		{ID: "c", Name: "listTasks", Args: json.RawMessage(`{}`)},
	}}

	got := map[string]ToolResponse{}
	for len(got) < 3 {
		select {
		case r := <-conn.respCh:
			if _, dup := got[r.ID]; dup {
				t.Fatalf("duplicate response for call %q", r.ID)
			}
			got[r.ID] = r
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out; have responses for %d calls", len(got))
		}
	}

	if _, ok := got["b"].Response["error"]; !ok {
		t.Errorf("failed call should answer with an error payload, got %v", got["b"].Response)
	}
	if _, ok := got["a"].Response["error"]; ok {
		t.Errorf("addTask should succeed, got %v", got["a"].Response)
	}
	if failed, ok := results.Load("nonsenseTool"); !ok || failed != true {
		t.Error("OnToolResult should report the failed call")
	}

	sess.Disconnect()
}

func TestSessionInterruptionDropsPlayback(t *testing.T) {
	conn := newFakeConn()
	transport := &fakeTransport{conn: conn}
	rec := newStateRecorder()

	interrupted := make(chan struct{}, 1)
	sess := newTestSession(t, transport, &fakeCapture{}, rec, Callbacks{
		OnInterrupted: func() { interrupted <- struct{}{} },
	})
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitFor(t, StateOpen)

	pcm := audio.PCM16Bytes(make([]float32, audio.OutputSampleRate)) // 1s of silence
	conn.events <- AudioEvent{Data: pcm, SampleRate: audio.OutputSampleRate}
	waitUntil(t, func() bool { return sess.Queue().Active() == 1 })

	conn.events <- InterruptedEvent{}
	select {
	case <-interrupted:
	case <-time.After(2 * time.Second):
		t.Fatal("interruption callback never fired")
	}
	waitUntil(t, func() bool { return sess.Queue().Active() == 0 })
	if got := sess.Queue().NextStartTime(); got != 0 {
		t.Fatalf("cursor after interruption: got %v, want 0", got)
	}

	sess.Disconnect()
}

func TestSessionMalformedAudioSkipped(t *testing.T) {
	conn := newFakeConn()
	transport := &fakeTransport{conn: conn}
	rec := newStateRecorder()
	sess := newTestSession(t, transport, &fakeCapture{}, rec, Callbacks{})
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitFor(t, StateOpen)

	conn.events <- AudioEvent{Data: []byte{1, 2, 3}, SampleRate: audio.OutputSampleRate}
	conn.events <- TranscriptEvent{Role: "model", Text: "still alive"}

	// The malformed frame is skipped and the session stays open.
	waitUntil(t, func() bool { return sess.State() == StateOpen && sess.Queue().Active() == 0 })
	sess.Disconnect()
}

func TestSessionRemoteCloseEndsSession(t *testing.T) {
	conn := newFakeConn()
	transport := &fakeTransport{conn: conn}
	rec := newStateRecorder()
	sess := newTestSession(t, transport, &fakeCapture{}, rec, Callbacks{})
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitFor(t, StateOpen)

	conn.closeOnce.Do(func() { close(conn.events) })
	rec.waitFor(t, StateClosed)
}

func TestSessionStreamErrorEndsErrored(t *testing.T) {
	conn := newFakeConn()
	transport := &fakeTransport{conn: conn}
	rec := newStateRecorder()
	sess := newTestSession(t, transport, &fakeCapture{}, rec, Callbacks{})
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitFor(t, StateOpen)

	conn.events <- ErrorEvent{Err: errors.New("stream reset")}
	rec.waitFor(t, StateErrored)
}

func TestSessionDisconnectIdempotent(t *testing.T) {
	conn := newFakeConn()
	transport := &fakeTransport{conn: conn}
	rec := newStateRecorder()
	sess := newTestSession(t, transport, &fakeCapture{}, rec, Callbacks{})
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitFor(t, StateOpen)

	sess.Disconnect()
	sess.Disconnect()
	rec.waitFor(t, StateClosed)

	rec.mu.Lock()
	var closes int
	for _, s := range rec.states {
		if s == StateClosed {
			closes++
		}
	}
	rec.mu.Unlock()
	if closes != 1 {
		t.Fatalf("closed emitted %d times, want 1", closes)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
