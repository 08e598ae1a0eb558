package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/90rdon/Nubela-Tasks/internal/audio"
	"github.com/90rdon/Nubela-Tasks/internal/core/live"
	"github.com/90rdon/Nubela-Tasks/internal/core/tasks"
	"github.com/90rdon/Nubela-Tasks/internal/metrics"
	"github.com/90rdon/Nubela-Tasks/internal/repo/memory"
	"github.com/90rdon/Nubela-Tasks/pkg/types"
	"github.com/90rdon/Nubela-Tasks/pkg/ws"
)

// StreamHandler bridges one browser socket to one live voice session. Binary
// frames carry microphone samples upstream; typed JSON messages carry audio,
// volume and state downstream.
type StreamHandler struct {
	Hub        *ws.Hub
	Repo       *memory.SessionRepo
	Store      *tasks.Store
	Transport  live.Transport
	Decomposer live.Decomposer

	Model          string
	DefaultVoice   string
	SystemPrompt   string
	ConnectTimeout time.Duration

	Logger   *slog.Logger
	Upgrader websocket.Upgrader
}

func NewStreamHandler(hub *ws.Hub, repo *memory.SessionRepo, store *tasks.Store, transport live.Transport, decomposer live.Decomposer, model, voice, systemPrompt string, connectTimeout time.Duration, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		Hub:            hub,
		Repo:           repo,
		Store:          store,
		Transport:      transport,
		Decomposer:     decomposer,
		Model:          model,
		DefaultVoice:   voice,
		SystemPrompt:   systemPrompt,
		ConnectTimeout: connectTimeout,
		Logger:         logger,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) WS(c *gin.Context) {
	id := c.Query("sess")
	record, ok := h.Repo.Get(id)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	client := ws.NewClient(conn)
	h.Hub.Add(id, client)
	defer func() {
		h.Hub.Remove(id)
		client.Close()
	}()

	conn.SetReadLimit(8 << 20)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	voice := record.Voice
	if voice == "" {
		voice = h.DefaultVoice
	}

	capture := newWSCapture()
	sink := &wsSink{client: client}
	tools := live.NewToolRegistry(h.Store, h.Decomposer)
	tools.SetObserver(metrics.ObserveToolCall)

	sess := live.NewSession(
		live.Config{
			Model:             h.Model,
			Voice:             voice,
			SystemInstruction: h.SystemPrompt,
			ConnectTimeout:    h.ConnectTimeout,
		},
		h.Transport, capture, tools, nil, sink,
		h.callbacks(id, client),
		h.Logger.With("session", id),
	)
	defer sess.Disconnect()

	_ = client.SendJSON(types.StatusMsg{Type: "status", State: string(live.StateIdle)})
	_ = client.SendJSON(types.TasksMsg{Type: "tasks", Tasks: h.Store.List()})

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		switch mt {
		case websocket.BinaryMessage:
			samples, err := audio.DecodeFloat32LE(msg)
			if err != nil {
				h.Logger.Warn("drop malformed mic frame", "session", id, "err", err)
				continue
			}
			capture.push(samples)
			h.Repo.IncFrames(id)
			metrics.AudioFramesIn.Inc()
		case websocket.TextMessage:
			var ctrl types.ClientControl
			if err := json.Unmarshal(msg, &ctrl); err != nil {
				continue
			}
			switch ctrl.Type {
			case "start":
				capture.setGranted(ctrl.MicGranted)
				if sess.State() != live.StateIdle {
					continue
				}
				go func() {
					if err := sess.Connect(context.Background()); err != nil {
						h.Logger.Warn("session connect failed", "session", id, "err", err)
					}
				}()
			case "stop":
				sess.Disconnect()
			}
		}
	}
}

// callbacks maps session events to typed socket messages and counters.
func (h *StreamHandler) callbacks(id string, client *ws.Client) live.Callbacks {
	var open atomic.Bool
	return live.Callbacks{
		OnState: func(state live.State, err error) {
			switch state {
			case live.StateConnecting:
				metrics.SessionsStarted.Inc()
			case live.StateOpen:
				open.Store(true)
				metrics.SessionsActive.Inc()
			case live.StateClosed, live.StateErrored:
				if open.CompareAndSwap(true, false) {
					metrics.SessionsActive.Dec()
				}
				if state == live.StateErrored {
					metrics.SessionsErrored.Inc()
				}
			}
			msg := types.StatusMsg{Type: "status", State: string(state)}
			if err != nil {
				msg.Error = err.Error()
			}
			_ = client.SendJSON(msg)
		},
		OnVolume: func(level float64) {
			_ = client.SendJSON(types.VolumeMsg{Type: "volume", Level: level})
		},
		OnTranscript: func(role, text string) {
			_ = client.SendJSON(types.TranscriptMsg{Type: "transcript", Role: role, Text: text})
		},
		OnInterrupted: func() {
			h.Repo.IncInterruptions(id)
			metrics.Interruptions.Inc()
			_ = client.SendJSON(types.InterruptedMsg{Type: "interrupted"})
		},
		OnToolResult: func(name string, failed bool) {
			h.Repo.IncToolCalls(id)
			// Every tool touches the list; push a fresh snapshot so the
			// board tracks the conversation.
			_ = client.SendJSON(types.TasksMsg{Type: "tasks", Tasks: h.Store.List()})
		},
	}
}

// wsCapture adapts inbound binary mic frames to a capture source. The browser
// owns the device, so permission is whatever the client reported on start.
type wsCapture struct {
	mu      sync.Mutex
	granted bool
	frames  chan []float32
	stopped bool
}

func newWSCapture() *wsCapture {
	return &wsCapture{}
}

func (c *wsCapture) setGranted(granted bool) {
	c.mu.Lock()
	c.granted = granted
	c.mu.Unlock()
}

func (c *wsCapture) Start(ctx context.Context) (<-chan []float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.granted {
		return nil, live.ErrPermission
	}
	if c.stopped {
		return nil, live.ErrPermission
	}
	c.frames = make(chan []float32, 32)
	return c.frames, nil
}

// push hands a sample block to the session pump. Blocks are dropped when the
// pump falls behind; stale audio is worse than a gap.
func (c *wsCapture) push(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.frames == nil {
		return
	}
	select {
	case c.frames <- samples:
	default:
	}
}

func (c *wsCapture) Stop() {
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

// wsSink forwards scheduled model audio to the browser for playback.
type wsSink struct {
	client *ws.Client
}

func (s *wsSink) Play(buf *audio.Buffer) {
	metrics.AudioFramesOut.Inc()
	_ = s.client.SendJSON(types.AudioMsg{
		Type: "audio",
		Data: base64.StdEncoding.EncodeToString(audio.PCM16Bytes(buf.Samples)),
		Rate: buf.SampleRate,
	})
}
