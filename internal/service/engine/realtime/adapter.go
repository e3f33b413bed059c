// Package realtime provides a WebSocket adapter for the realtime dialogue engine.
package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/models"
	"ai-voice-relay-service/internal/observability/logging"
	"ai-voice-relay-service/internal/service/engine"
)

// Config holds connection settings for the realtime engine.
type Config struct {
	URL            string
	APIKey         string
	Model          string
	ConnectTimeout time.Duration
}

// Adapter implements engine.Adapter over the realtime WebSocket API.
type Adapter struct {
	cfg    Config
	logger zerolog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn
	cb      engine.Callback
	open    atomic.Bool
}

// New creates a new realtime engine adapter.
func New(cfg Config) *Adapter {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Adapter{
		cfg:    cfg,
		logger: logging.WithComponent("engine.realtime"),
	}
}

// Start dials the engine, sends the session configuration, and begins the
// read loop. Events are dispatched to the callback strictly in arrival order.
func (a *Adapter) Start(ctx context.Context, cfg engine.SessionConfig, cb engine.Callback) error {
	dialer := websocket.Dialer{HandshakeTimeout: a.cfg.ConnectTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	url := a.cfg.URL + "?model=" + a.cfg.Model
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("engine handshake: %w", err)
	}

	a.conn = conn
	a.cb = cb
	a.open.Store(true)

	if err := a.configureSession(cfg); err != nil {
		a.open.Store(false)
		conn.Close()
		return fmt.Errorf("engine session config: %w", err)
	}

	go a.listen()
	return nil
}

func (a *Adapter) configureSession(cfg engine.SessionConfig) error {
	session := map[string]any{
		"modalities":          []string{"text", "audio"},
		"voice":               cfg.Voice,
		"input_audio_format":  cfg.InputAudioFormat,
		"output_audio_format": cfg.OutputAudioFormat,
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"threshold":           cfg.TurnThreshold,
			"silence_duration_ms": cfg.SilenceDurationMs,
		},
	}
	if cfg.Instructions != "" {
		session["instructions"] = cfg.Instructions
	}
	if cfg.TranscriptionModel != "" {
		session["input_audio_transcription"] = map[string]any{
			"model": cfg.TranscriptionModel,
		}
	}
	return a.writeJSON(map[string]any{
		"type":    "session.update",
		"session": session,
	})
}

// SendAudio appends a base64 PCM16 frame to the engine's input buffer.
func (a *Adapter) SendAudio(ctx context.Context, audioB64 string) error {
	return a.writeJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": audioB64,
	})
}

// InjectHistory adds a prior message as pure conversation context.
// No response is requested; the engine must not answer it.
func (a *Adapter) InjectHistory(ctx context.Context, role models.Role, text string) error {
	contentType := "input_text"
	if role == models.RoleAssistant {
		contentType = "text"
	}
	return a.writeJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": string(role),
			"content": []map[string]any{
				{"type": contentType, "text": text},
			},
		},
	})
}

// InjectUserText adds a user text item (used for the scripted opener).
func (a *Adapter) InjectUserText(ctx context.Context, text string) error {
	return a.InjectHistory(ctx, models.RoleUser, text)
}

// CreateResponse asks the engine to generate an assistant turn.
func (a *Adapter) CreateResponse(ctx context.Context) error {
	return a.writeJSON(map[string]any{"type": "response.create"})
}

// CancelResponse cancels the in-flight assistant turn.
func (a *Adapter) CancelResponse(ctx context.Context, responseID string) error {
	return a.writeJSON(map[string]any{"type": "response.cancel"})
}

// IsOpen reports whether the engine connection is usable.
func (a *Adapter) IsOpen() bool {
	return a.open.Load()
}

// Close ends the session.
func (a *Adapter) Close() error {
	if !a.open.Swap(false) {
		return nil
	}
	a.writeMu.Lock()
	a.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	a.writeMu.Unlock()
	return a.conn.Close()
}

func (a *Adapter) writeJSON(v any) error {
	if !a.open.Load() {
		return fmt.Errorf("engine connection is not open")
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteJSON(v)
}

// serverEvent is the envelope for all engine wire events. Fields are
// populated depending on the event type.
type serverEvent struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Response   *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Output []struct {
			Content []struct {
				Type       string `json:"type"`
				Text       string `json:"text"`
				Transcript string `json:"transcript"`
			} `json:"content"`
		} `json:"output"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// listen reads engine events and dispatches callbacks until the connection
// closes. Runs on its own goroutine; dispatch is sequential, which preserves
// the arrival-order guarantee the bridge depends on.
func (a *Adapter) listen() {
	for {
		var ev serverEvent
		if err := a.conn.ReadJSON(&ev); err != nil {
			if a.open.Swap(false) {
				a.logger.Warn().Err(err).Msg("Engine connection closed")
				a.cb.OnError(fmt.Errorf("engine connection lost: %w", err))
			}
			return
		}
		a.dispatch(ev)
	}
}

func (a *Adapter) dispatch(ev serverEvent) {
	switch ev.Type {
	case "input_audio_buffer.speech_started":
		a.cb.OnSpeechStarted()

	case "conversation.item.input_audio_transcription.completed":
		a.cb.OnUserTranscript(ev.Transcript)

	case "response.created":
		id := ""
		if ev.Response != nil {
			id = ev.Response.ID
		}
		a.cb.OnResponseCreated(id)

	case "response.text.delta", "response.audio_transcript.delta":
		a.cb.OnTextDelta(ev.ResponseID, ev.Delta)

	case "response.audio.delta":
		a.cb.OnAudioDelta(ev.ResponseID, ev.Delta)

	case "response.done":
		if ev.Response == nil {
			return
		}
		if ev.Response.Status == "cancelled" {
			a.cb.OnResponseCancelled(ev.Response.ID)
			return
		}
		a.cb.OnResponseDone(ev.Response.ID, finalTranscript(ev))

	case "error":
		if ev.Error != nil {
			a.cb.OnError(&engine.APIError{Code: ev.Error.Code, Message: ev.Error.Message})
		}

	default:
		a.logger.Debug().Str("type", ev.Type).Msg("Ignoring engine event")
	}
}

// finalTranscript extracts the complete assistant transcript from a
// response.done payload.
func finalTranscript(ev serverEvent) string {
	for _, out := range ev.Response.Output {
		for _, c := range out.Content {
			if c.Transcript != "" {
				return c.Transcript
			}
			if c.Text != "" {
				return c.Text
			}
		}
	}
	return ""
}
