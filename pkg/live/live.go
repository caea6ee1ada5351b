// Package live implements the streaming session client for the remote
// conversational voice service.
//
// A session is a single duplex WebSocket connection: microphone frames go
// out as base64 PCM16 media chunks, and the service streams back audio,
// partial transcriptions for both directions, and turn-complete markers.
// There is no retry or reconnect; a transport failure is terminal and is
// surfaced to the call lifecycle controller through the event stream.
package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// DefaultEndpoint is the production voice service WebSocket endpoint.
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// DefaultModel is the voice model used when none is configured.
	DefaultModel = "models/gemini-2.0-flash-exp"

	// DefaultVoice is the prebuilt voice persona used when none is configured.
	DefaultVoice = "Kore"
)

// Config holds session configuration.
type Config struct {
	// APIKey authenticates against the voice service.
	APIKey string

	// Endpoint overrides the service URL (used by tests and the local
	// simulator). Default: DefaultEndpoint.
	Endpoint string

	// Model is the voice model name.
	Model string

	// Voice is the prebuilt voice persona name.
	Voice string

	// Instruction is the natural-language system instruction defining the
	// simulated client's role and goal.
	Instruction string

	// HandshakeTimeout bounds the WebSocket handshake. Default: 10s.
	HandshakeTimeout time.Duration

	// Logger is the structured logger. Default: slog.Default().
	Logger *slog.Logger
}

func (c *Config) withDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ServerEvent is one inbound event from the voice service. A single event
// may carry any combination of fields; zero-value fields are absent.
type ServerEvent struct {
	// Audio is a decoded PCM16 chunk at 24 kHz.
	Audio []byte

	// InputText is a partial transcription fragment of the candidate.
	InputText string

	// OutputText is a partial transcription fragment of the AI client.
	OutputText string

	// TurnComplete marks the end of one conversational exchange.
	TurnComplete bool

	// Interrupted indicates the candidate spoke over the AI response.
	Interrupted bool

	// Err is a terminal transport failure. No further events follow.
	Err error

	// Closed indicates the remote peer closed the session normally.
	Closed bool
}

func (e ServerEvent) empty() bool {
	return e.Audio == nil && e.InputText == "" && e.OutputText == "" &&
		!e.TurnComplete && !e.Interrupted && e.Err == nil && !e.Closed
}

// Client is a single duplex session to the voice service.
// At most one session is open per call; Close is idempotent and any
// SendAudio after Close is inert.
type Client struct {
	cfg    Config
	id     uuid.UUID
	logger *slog.Logger

	ws   *websocket.Conn
	wsMu sync.Mutex // serializes writes

	mu      sync.Mutex
	ready   bool     // setupComplete received
	closed  bool     // Close called locally
	pending []string // base64 frames queued before ready, capture order

	events      chan ServerEvent
	decodeSkips atomic.Int64
}

// Dial opens the session, sends the setup message, and starts the read
// loop. The session is configured with audio response modality, the voice
// persona, the system instruction, and transcription opt-ins for both
// directions.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg.withDefaults()

	if cfg.APIKey == "" && cfg.Endpoint == DefaultEndpoint {
		return nil, ErrMissingAPIKey
	}

	endpoint := cfg.Endpoint
	if cfg.APIKey != "" {
		endpoint += "?key=" + url.QueryEscape(cfg.APIKey)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	c := &Client{
		cfg:    cfg,
		id:     uuid.New(),
		ws:     ws,
		events: make(chan ServerEvent, 64),
	}
	c.logger = cfg.Logger.With("session", c.id.String()[:8])

	if err := c.sendSetup(); err != nil {
		ws.Close()
		return nil, err
	}

	go c.readLoop()

	c.logger.Info("voice session opened", "model", cfg.Model, "voice", cfg.Voice)

	return c, nil
}

func (c *Client) sendSetup() error {
	msg := setupMessage{
		Setup: setupPayload{
			Model: c.cfg.Model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: &speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: c.cfg.Voice},
					},
				},
			},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
	}
	if c.cfg.Instruction != "" {
		msg.Setup.SystemInstruction = &contentPayload{
			Parts: []partPayload{{Text: c.cfg.Instruction}},
		}
	}

	if err := c.writeJSON(msg); err != nil {
		return &TransportError{Op: "setup", Err: err}
	}
	return nil
}

// ID returns the session identifier.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// Events returns the inbound event stream. The channel is closed when the
// read loop exits, after a terminal Err or Closed event if any.
func (c *Client) Events() <-chan ServerEvent {
	return c.events
}

// SendAudio queues or transmits one captured frame of raw PCM16 at 16 kHz.
// Frames sent before the session handshake completes are queued and flushed
// in capture order once the service acknowledges setup. After Close the
// call is inert and returns nil.
func (c *Client) SendAudio(pcm []byte) error {
	encoded := base64.StdEncoding.EncodeToString(pcm)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if !c.ready {
		c.pending = append(c.pending, encoded)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.sendChunk(encoded)
}

func (c *Client) sendChunk(encoded string) error {
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{{Data: encoded, MimeType: MimeAudioIn}},
		},
	}
	if err := c.writeJSON(msg); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// Close shuts the session down. Idempotent; errors from the underlying
// connection are swallowed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.wsMu.Lock()
	deadline := time.Now().Add(time.Second)
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.ws.Close()
	c.wsMu.Unlock()

	c.logger.Info("voice session closed")

	return nil
}

// DecodeSkips returns the number of malformed audio chunks skipped.
func (c *Client) DecodeSkips() int64 {
	return c.decodeSkips.Load()
}

func (c *Client) writeJSON(v any) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.ws.WriteJSON(v)
}

// readLoop is the single reader of the WebSocket. It parses each inbound
// message into a ServerEvent and exits on the first read error.
func (c *Client) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()

			if closed {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				// Remote hung up cleanly. The lifecycle controller stays
				// in charge of ending the call.
				c.logger.Info("voice session closed by remote")
				c.events <- ServerEvent{Closed: true}
				return
			}
			c.events <- ServerEvent{Err: &TransportError{Op: "receive", Err: err}}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("unparseable service message", "err", err)
			continue
		}

		if msg.SetupComplete != nil {
			c.flushPending()
			continue
		}

		if msg.ServerContent != nil {
			if ev := c.toEvent(msg.ServerContent); !ev.empty() {
				c.events <- ev
			}
		}
	}
}

// flushPending transmits frames queued before setupComplete, in capture
// order, then marks the session ready. Holding mu for the whole flush keeps
// later SendAudio calls from overtaking queued frames.
func (c *Client) flushPending() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, encoded := range c.pending {
		if err := c.sendChunk(encoded); err != nil {
			c.logger.Warn("failed to flush queued frame", "err", err)
			break
		}
	}
	c.pending = nil
	c.ready = true

	c.logger.Debug("voice session ready")
}

func (c *Client) toEvent(sc *serverContent) ServerEvent {
	ev := ServerEvent{
		TurnComplete: sc.TurnComplete,
		Interrupted:  sc.Interrupted,
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData == nil || !strings.HasPrefix(part.InlineData.MimeType, "audio/pcm") {
				continue
			}
			audio, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				// Malformed chunk: skip and continue, never fatal.
				c.decodeSkips.Add(1)
				c.logger.Warn("skipping malformed audio chunk", "err", err)
				continue
			}
			ev.Audio = append(ev.Audio, audio...)
		}
	}

	if sc.InputTranscription != nil {
		ev.InputText = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		ev.OutputText = sc.OutputTranscription.Text
	}

	return ev
}
