package gemini

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/90rdon/Nubela-Tasks/internal/audio"
	"github.com/90rdon/Nubela-Tasks/internal/core/live"
)

const defaultLiveEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// JSON structures for the bidirectional streaming API.

type textPart struct {
	Text string `json:"text"`
}

type systemInstruction struct {
	Parts []textPart `json:"parts"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type schemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type parameterSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]schemaProperty `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

type functionDeclaration struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Parameters  *parameterSchema `json:"parameters,omitempty"`
}

type toolDeclaration struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type setupMessage struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	Tools                    []toolDeclaration  `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type mediaChunk struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type clientMessage struct {
	Setup         *setupMessage  `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *toolResponse  `json:"toolResponse,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type receivedPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type modelTurn struct {
	Parts []receivedPart `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type functionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type serverToolCall struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type serverMessage struct {
	SetupComplete *struct{}       `json:"setupComplete,omitempty"`
	ServerContent *serverContent  `json:"serverContent,omitempty"`
	ToolCall      *serverToolCall `json:"toolCall,omitempty"`
}

// Dialer connects live sessions to the Gemini bidirectional streaming API.
// It satisfies live.Transport.
type Dialer struct {
	APIKey   string
	Endpoint string
	Logger   *slog.Logger
}

// NewDialer returns a dialer for the public Live API endpoint.
func NewDialer(apiKey string) *Dialer {
	return &Dialer{APIKey: apiKey, Endpoint: defaultLiveEndpoint}
}

// Connect dials the streaming endpoint, sends the session setup (model,
// system instruction, voice, tool declarations) and waits for setup
// acknowledgement before handing the connection to the session manager.
func (d *Dialer) Connect(ctx context.Context, cfg live.SessionConfig) (live.Conn, error) {
	endpoint := d.Endpoint
	if endpoint == "" {
		endpoint = defaultLiveEndpoint
	}
	url := endpoint + "?key=" + d.APIKey

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &live.TransportError{Op: "dial", Err: err}
	}

	setup := &setupMessage{
		Model: cfg.Model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}
	if cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice}},
		}
	}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &systemInstruction{Parts: []textPart{{Text: cfg.SystemInstruction}}}
	}
	if len(cfg.Tools) > 0 {
		setup.Tools = []toolDeclaration{{FunctionDeclarations: declarationsFor(cfg.Tools)}}
	}

	if err := conn.WriteJSON(clientMessage{Setup: setup}); err != nil {
		_ = conn.Close()
		return nil, &live.TransportError{Op: "setup", Err: err}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, &live.TransportError{Op: "setup ack", Err: err}
	}
	_ = conn.SetReadDeadline(time.Time{})
	var ack serverMessage
	if err := json.Unmarshal(payload, &ack); err != nil || ack.SetupComplete == nil {
		_ = conn.Close()
		return nil, &live.TransportError{Op: "setup ack", Err: err}
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lc := &liveConn{
		conn:     conn,
		events:   make(chan live.ServerEvent, 256),
		closedCh: make(chan struct{}),
		logger:   logger,
	}
	go lc.readLoop()
	return lc, nil
}

func declarationsFor(tools []live.ToolDecl) []functionDeclaration {
	decls := make([]functionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := functionDeclaration{Name: t.Name, Description: t.Description}
		if len(t.Params) > 0 {
			params := &parameterSchema{
				Type:       "OBJECT",
				Properties: make(map[string]schemaProperty, len(t.Params)),
				Required:   t.Required,
			}
			for name, p := range t.Params {
				params.Properties[name] = schemaProperty{
					Type:        strings.ToUpper(p.Type),
					Description: p.Description,
				}
			}
			decl.Parameters = params
		}
		decls = append(decls, decl)
	}
	return decls
}

// liveConn is one established streaming connection.
type liveConn struct {
	conn   *websocket.Conn
	events chan live.ServerEvent
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	closedCh  chan struct{}
}

func (c *liveConn) Events() <-chan live.ServerEvent {
	return c.events
}

// SendAudioFrame forwards one encoded microphone block. Sends after Close
// are no-ops.
func (c *liveConn) SendAudioFrame(blob audio.Blob) error {
	return c.sendJSON(clientMessage{
		RealtimeInput: &realtimeInput{
			MediaChunks: []mediaChunk{{MimeType: blob.MIMEType, Data: blob.Data}},
		},
	})
}

// SendToolResponse answers tool calls by id.
func (c *liveConn) SendToolResponse(responses []live.ToolResponse) error {
	frs := make([]functionResponse, 0, len(responses))
	for _, r := range responses {
		frs = append(frs, functionResponse{ID: r.ID, Name: r.Name, Response: r.Response})
	}
	return c.sendJSON(clientMessage{ToolResponse: &toolResponse{FunctionResponses: frs}})
}

func (c *liveConn) sendJSON(msg clientMessage) error {
	if c.closed.Load() {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Close requests a clean shutdown of the remote session and releases the
// socket. Safe to call more than once.
func (c *liveConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closedCh)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	return nil
}

func (c *liveConn) readLoop() {
	defer close(c.events)
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.emit(live.ErrorEvent{Err: err})
			return
		}
		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Warn("skip undecodable server message", "err", err)
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch translates one wire message into typed events, preserving the
// in-message order: interruption first, then transcripts, audio parts and
// turn completion.
func (c *liveConn) dispatch(msg serverMessage) {
	if msg.ToolCall != nil {
		calls := make([]live.ToolCall, 0, len(msg.ToolCall.FunctionCalls))
		for _, fc := range msg.ToolCall.FunctionCalls {
			calls = append(calls, live.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		if len(calls) > 0 {
			c.emit(live.ToolCallEvent{Calls: calls})
		}
	}
	sc := msg.ServerContent
	if sc == nil {
		return
	}
	if sc.Interrupted {
		c.emit(live.InterruptedEvent{})
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		c.emit(live.TranscriptEvent{Role: "user", Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		c.emit(live.TranscriptEvent{Role: "model", Text: sc.OutputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData == nil || !strings.HasPrefix(part.InlineData.MimeType, "audio/pcm") {
				continue
			}
			raw, err := audio.DecodeBase64(part.InlineData.Data)
			if err != nil {
				c.logger.Warn("skip malformed inbound audio", "err", err)
				continue
			}
			c.emit(live.AudioEvent{Data: raw, SampleRate: rateFromMIME(part.InlineData.MimeType)})
		}
	}
	if sc.TurnComplete {
		c.emit(live.TurnCompleteEvent{})
	}
}

// emit delivers in order; it blocks rather than drops so the session sees
// every event, and unblocks when the connection closes.
func (c *liveConn) emit(ev live.ServerEvent) {
	select {
	case c.events <- ev:
	case <-c.closedCh:
	}
}

func rateFromMIME(mime string) int {
	for _, field := range strings.Split(mime, ";") {
		field = strings.TrimSpace(field)
		if rest, ok := strings.CutPrefix(field, "rate="); ok {
			if rate, err := strconv.Atoi(rest); err == nil && rate > 0 {
				return rate
			}
		}
	}
	return audio.OutputSampleRate
}
