// Package engine defines the interface to the upstream realtime dialogue engine.
package engine

import (
	"context"

	"ai-voice-relay-service/internal/models"
)

// SessionConfig configures an upstream engine session.
type SessionConfig struct {
	Model              string
	Voice              string
	Instructions       string
	InputAudioFormat   string // e.g. "pcm16"
	OutputAudioFormat  string // e.g. "pcm16"
	TranscriptionModel string
	TurnThreshold      float64
	SilenceDurationMs  int
}

// Callback receives events from the upstream engine.
// Callbacks are invoked strictly in arrival order from a single goroutine.
type Callback interface {
	// OnSpeechStarted is called when the engine detects user speech beginning.
	OnSpeechStarted()

	// OnUserTranscript is called when a user utterance transcription completes.
	OnUserTranscript(text string)

	// OnResponseCreated is called when an assistant turn begins.
	OnResponseCreated(responseID string)

	// OnTextDelta is called for each streamed assistant transcript fragment.
	OnTextDelta(responseID, text string)

	// OnAudioDelta is called for each streamed assistant audio chunk (base64 PCM16).
	OnAudioDelta(responseID, audioB64 string)

	// OnResponseDone is called when an assistant turn completes.
	// finalText carries the engine's complete transcript, which may be
	// longer than the concatenated deltas.
	OnResponseDone(responseID, finalText string)

	// OnResponseCancelled is called when the engine confirms a cancelled turn.
	OnResponseCancelled(responseID string)

	// OnError is called when the engine reports an error.
	OnError(err error)
}

// Adapter defines the duplex interface to a dialogue engine provider.
type Adapter interface {
	// Start opens the engine connection, sends the session configuration,
	// and begins dispatching events to the callback.
	Start(ctx context.Context, cfg SessionConfig, cb Callback) error

	// SendAudio forwards a base64-encoded PCM16 audio frame to the engine.
	SendAudio(ctx context.Context, audioB64 string) error

	// InjectHistory adds a prior message to the engine's conversation context
	// without triggering a generated response.
	InjectHistory(ctx context.Context, role models.Role, text string) error

	// InjectUserText adds a user text item, typically a scripted opener.
	InjectUserText(ctx context.Context, text string) error

	// CreateResponse asks the engine to generate an assistant turn.
	CreateResponse(ctx context.Context) error

	// CancelResponse cancels the in-flight assistant turn.
	CancelResponse(ctx context.Context, responseID string) error

	// IsOpen reports whether the engine connection is usable.
	IsOpen() bool

	// Close ends the session and releases resources.
	Close() error
}
