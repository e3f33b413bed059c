// Package relay provides the client-facing WebSocket endpoint. It parses the
// tagged-message control protocol, dispatches to a fresh dialogue bridge per
// connection, and streams normalized events back to the client.
package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/events"
	"ai-voice-relay-service/internal/observability/logging"
	"ai-voice-relay-service/internal/observability/metrics"
	"ai-voice-relay-service/internal/registry"
	"ai-voice-relay-service/internal/service/bridge"
	"ai-voice-relay-service/internal/service/engine"
	"ai-voice-relay-service/internal/store"
)

// maxMessageBytes bounds one client frame. Audio frames are ~100ms of
// base64 PCM16 at 24kHz, far below this.
const maxMessageBytes = 1 << 20

// clientMessage is the tagged client→server protocol envelope.
type clientMessage struct {
	Type string `json:"type"`

	// start
	Username       string `json:"username,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Condition      string `json:"condition,omitempty"`
	IsReconnection bool   `json:"isReconnection,omitempty"`
	HasMessages    bool   `json:"hasMessages,omitempty"`

	// audio
	Audio string `json:"audio,omitempty"`

	// stop
	RequestNewSession bool `json:"requestNewSession,omitempty"`
}

// serverMessage is the tagged server→client protocol envelope.
type serverMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Audio   string `json:"audio,omitempty"`
	Message string `json:"message,omitempty"`
}

// AdapterFactory creates a fresh upstream engine adapter for one connection.
type AdapterFactory func() engine.Adapter

// Handler is the WebSocket relay endpoint. Process-wide collaborators are
// shared; everything else is created per connection.
type Handler struct {
	store      store.Store
	registry   *registry.Registry
	publisher  *events.Publisher
	newAdapter AdapterFactory
	bridgeCfg  bridge.Config
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// NewHandler creates the relay endpoint handler.
func NewHandler(st store.Store, reg *registry.Registry, pub *events.Publisher, newAdapter AdapterFactory, bridgeCfg bridge.Config) *Handler {
	return &Handler{
		store:      st,
		registry:   reg,
		publisher:  pub,
		newAdapter: newAdapter,
		bridgeCfg:  bridgeCfg,
		metrics:    metrics.DefaultMetrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins; auth happens
			// at the gateway in front of this service.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logging.WithComponent("relay"),
	}
}

// ServeHTTP upgrades the connection and runs the per-connection read loop.
// On transport close the bridge force-saves and releases its resources.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remoteAddr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	connectionID := uuid.NewString()
	logger := logging.WithConnection(connectionID, "")
	logger.Info().Str("remoteAddr", r.RemoteAddr).Msg("Client connected")

	h.metrics.ConnectionsTotal.Inc()
	h.metrics.ConnectionsActive.Inc()
	startedAt := time.Now()

	c := &client{conn: conn, logger: logger}
	bridgeCfg := h.bridgeCfg
	bridgeCfg.ConnectionID = connectionID
	b := bridge.New(h.newAdapter(), h.store, h.registry, h.publisher, c, bridgeCfg)

	defer func() {
		b.Shutdown(r.Context())
		conn.Close()
		h.metrics.ConnectionsActive.Dec()
		h.metrics.ConnectionDuration.Observe(time.Since(startedAt).Seconds())
		logger.Info().Dur("duration", time.Since(startedAt)).Msg("Client disconnected")
	}()

	conn.SetReadLimit(maxMessageBytes)
	h.readLoop(r, conn, c, b, logger)
}

func (h *Handler) readLoop(r *http.Request, conn *websocket.Conn, c *client, b *bridge.Bridge, logger zerolog.Logger) {
	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("Connection closed unexpectedly")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn().Err(err).Msg("Malformed client message")
			c.SendError("malformed message")
			continue
		}

		switch msg.Type {
		case "start":
			if msg.Username == "" || msg.SessionID == "" || msg.ConversationID == "" {
				c.SendError("start requires username, sessionId and conversationId")
				continue
			}
			req := bridge.StartRequest{
				Username:       msg.Username,
				SessionID:      msg.SessionID,
				ConversationID: msg.ConversationID,
				Condition:      msg.Condition,
				IsReconnection: msg.IsReconnection,
				HasMessages:    msg.HasMessages,
			}
			if err := b.OnStart(ctx, req); err != nil {
				logger.Error().Err(err).Msg("Session start failed")
				c.SendError("failed to start session: " + err.Error())
			}

		case "audio":
			b.OnAudioFrame(ctx, msg.Audio)

		case "stop":
			b.OnStop(ctx, msg.RequestNewSession)

		case "emergency_save":
			b.OnEmergencySave(ctx)

		default:
			logger.Warn().Str("type", msg.Type).Msg("Unknown client message type")
			c.SendError("unknown message type: " + msg.Type)
		}
	}
}

// client adapts one WebSocket connection to the bridge's Sink. Writes come
// from the engine listen goroutine and the read loop, so they are serialized
// with a mutex.
type client struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	logger zerolog.Logger
}

func (c *client) send(msg serverMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug().Err(err).Str("type", msg.Type).Msg("Client write failed")
	}
}

func (c *client) SendUserTranscription(text string) {
	c.send(serverMessage{Type: "user_transcription", Text: text})
}

func (c *client) SendAssistantDelta(text string) {
	c.send(serverMessage{Type: "assistant_transcript_delta", Text: text})
}

func (c *client) SendAssistantComplete(text string) {
	c.send(serverMessage{Type: "assistant_transcript_complete", Text: text})
}

func (c *client) SendAssistantAudio(audioB64 string) {
	c.send(serverMessage{Type: "assistant_audio_delta", Audio: audioB64})
}

func (c *client) SendResponseCreating() {
	c.send(serverMessage{Type: "response_creating"})
}

func (c *client) SendResponseInterrupted() {
	c.send(serverMessage{Type: "response_interrupted"})
}

func (c *client) SendResponseComplete() {
	c.send(serverMessage{Type: "response_complete"})
}

func (c *client) SendError(message string) {
	c.send(serverMessage{Type: "error", Message: message})
}
