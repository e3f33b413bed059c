// Package bridge provides the per-connection dialogue bridge that relays
// audio and text between one client connection and the upstream dialogue
// engine, accumulates the in-progress assistant turn, detects interruption,
// and persists the transcript.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/events"
	"ai-voice-relay-service/internal/models"
	"ai-voice-relay-service/internal/observability/logging"
	"ai-voice-relay-service/internal/observability/metrics"
	"ai-voice-relay-service/internal/registry"
	"ai-voice-relay-service/internal/service/engine"
	"ai-voice-relay-service/internal/service/reconcile"
	"ai-voice-relay-service/internal/service/turn"
	"ai-voice-relay-service/internal/store"
)

// Sink delivers normalized events back to the client connection.
type Sink interface {
	SendUserTranscription(text string)
	SendAssistantDelta(text string)
	SendAssistantComplete(text string)
	SendAssistantAudio(audioB64 string)
	SendResponseCreating()
	SendResponseInterrupted()
	SendResponseComplete()
	SendError(message string)
}

// Config holds per-bridge settings. ConnectionID is set by the relay per
// connection for log correlation.
type Config struct {
	Engine           engine.SessionConfig
	OpeningPrompt    string
	AutosaveInterval time.Duration
	EvictionGrace    time.Duration
	ConnectionID     string
}

// StartRequest carries the client's start message fields.
type StartRequest struct {
	Username       string
	SessionID      string
	ConversationID string
	Condition      string
	IsReconnection bool
	HasMessages    bool
}

// Bridge owns one client connection's conversation with the upstream engine.
// The client read loop, the engine listen loop, and the auto-save timer are
// separate goroutines; all shared state is guarded by mu or owned by the
// turn machine.
type Bridge struct {
	adapter   engine.Adapter
	store     store.Store
	registry  *registry.Registry
	publisher *events.Publisher
	metrics   *metrics.Metrics
	sink      Sink
	cfg       Config
	logger    zerolog.Logger

	mu             sync.Mutex
	started        bool
	username       string
	sessionID      string
	conversationID string
	condition      string
	messages       []models.TranscriptMessage
	nextSeq        int
	turn           *turn.Machine
	stopAutosave   chan struct{}
}

// New creates a bridge for one client connection.
func New(adapter engine.Adapter, st store.Store, reg *registry.Registry, pub *events.Publisher, sink Sink, cfg Config) *Bridge {
	return &Bridge{
		adapter:   adapter,
		store:     st,
		registry:  reg,
		publisher: pub,
		metrics:   metrics.DefaultMetrics,
		sink:      sink,
		cfg:       cfg,
		turn:      turn.NewMachine(),
		logger:    logging.WithComponent("bridge"),
	}
}

// OnStart opens the engine session and reconciles conversation state:
// fresh greeting, silent resume, or context replay.
func (b *Bridge) OnStart(ctx context.Context, req StartRequest) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	b.username = req.Username
	b.sessionID = req.SessionID
	b.conversationID = req.ConversationID
	b.condition = req.Condition
	b.logger = logging.WithSession(b.cfg.ConnectionID, req.Username, req.SessionID, req.ConversationID)
	b.mu.Unlock()

	resumed := b.registry.Track(req.SessionID, req.Username, req.ConversationID)

	prior, err := b.store.Read(ctx, req.Username, req.ConversationID)
	if err != nil {
		// History is a nicety; a fresh conversation still works without it.
		b.logger.Warn().Err(err).Msg("Failed to hydrate prior transcript")
		prior = nil
	}

	if err := b.adapter.Start(ctx, b.cfg.Engine, b); err != nil {
		b.metrics.EngineConnectErr.Inc()
		return fmt.Errorf("engine start: %w", err)
	}

	b.mu.Lock()
	b.messages = append(b.messages[:0], prior...)
	b.nextSeq = 0
	if n := len(prior); n > 0 {
		b.nextSeq = prior[n-1].Sequence + 1
	}
	b.started = true
	b.stopAutosave = make(chan struct{})
	b.mu.Unlock()

	decision := reconcile.Decide(req.IsReconnection || resumed, len(prior))
	b.logger.Info().
		Str("decision", decision.String()).
		Int("priorMessages", len(prior)).
		Bool("isReconnection", req.IsReconnection).
		Bool("registryResumed", resumed).
		Msg("Session started")

	if err := reconcile.Apply(ctx, b.adapter, decision, prior, b.cfg.OpeningPrompt); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	go b.autosaveLoop(b.stopAutosave)
	return nil
}

// OnAudioFrame forwards a client audio frame upstream. Frames arriving while
// the engine connection is down are dropped; audio capture is real-time and
// queueing stale frames would only confuse the turn detector.
func (b *Bridge) OnAudioFrame(ctx context.Context, audioB64 string) {
	if !b.adapter.IsOpen() {
		b.metrics.AudioFramesDropped.Inc()
		return
	}
	if err := b.adapter.SendAudio(ctx, audioB64); err != nil {
		b.metrics.AudioFramesDropped.Inc()
		b.logger.Debug().Err(err).Msg("Dropped audio frame")
		return
	}
	b.metrics.AudioFramesForwarded.Inc()
}

// OnStop force-saves the transcript and closes the engine session. With
// requestNewSession the registry entry is evicted so the next start is
// treated as a brand-new conversation.
func (b *Bridge) OnStop(ctx context.Context, requestNewSession bool) {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	sessionID := b.sessionID
	if b.stopAutosave != nil {
		close(b.stopAutosave)
		b.stopAutosave = nil
	}
	b.mu.Unlock()

	b.forceSave(ctx)

	if requestNewSession {
		b.registry.Evict(sessionID)
	}
	if err := b.adapter.Close(); err != nil {
		b.logger.Debug().Err(err).Msg("Engine close")
	}
	b.logger.Info().Bool("requestNewSession", requestNewSession).Msg("Session stopped")
}

// OnEmergencySave force-saves ahead of an anticipated connection loss.
// An in-flight assistant turn is sealed as interrupted first so its partial
// content is not lost with the connection. Best-effort: never fails the caller.
func (b *Bridge) OnEmergencySave(ctx context.Context) {
	if _, sealed, ok := b.turn.Interrupt(); ok && strings.TrimSpace(sealed.Content) != "" {
		b.appendMessage(models.RoleAssistant, sealed.Content, sealed.StartedAt, true)
	}
	b.forceSave(ctx)
	b.logger.Info().Msg("Emergency save completed")
}

// Shutdown is called on transport close: final force-save, engine teardown,
// and delayed registry eviction so a quick reconnect resumes cleanly.
func (b *Bridge) Shutdown(ctx context.Context) {
	b.mu.Lock()
	started := b.started
	b.started = false
	sessionID := b.sessionID
	if b.stopAutosave != nil {
		close(b.stopAutosave)
		b.stopAutosave = nil
	}
	b.mu.Unlock()

	if !started {
		return
	}
	b.forceSave(ctx)
	if err := b.adapter.Close(); err != nil {
		b.logger.Debug().Err(err).Msg("Engine close")
	}
	b.registry.EvictAfter(sessionID, b.cfg.EvictionGrace)
}

// Messages returns a snapshot of the transcript so far.
func (b *Bridge) Messages() []models.TranscriptMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.TranscriptMessage, len(b.messages))
	copy(out, b.messages)
	return out
}

// --- engine.Callback implementation ---

// OnSpeechStarted handles user speech beginning. If an assistant turn is
// active it is interrupted: sealed with the ellipsis marker, appended to the
// transcript, force-persisted, the engine turn cancelled, and the client
// notified. Late deltas for the cancelled response id are discarded by the
// turn machine.
func (b *Bridge) OnSpeechStarted() {
	b.metrics.EngineEvents.WithLabelValues("speech_started").Inc()

	cancelledID, sealed, ok := b.turn.Interrupt()
	if !ok {
		return
	}
	b.metrics.TurnsInterrupted.Inc()

	ctx := context.Background()
	if strings.TrimSpace(sealed.Content) != "" {
		b.appendMessage(models.RoleAssistant, sealed.Content, sealed.StartedAt, true)
		b.forceSave(ctx)
	}
	if err := b.adapter.CancelResponse(ctx, cancelledID); err != nil {
		b.logger.Debug().Err(err).Str("responseId", cancelledID).Msg("Cancel request failed")
	}
	b.sink.SendResponseInterrupted()
	b.logger.Info().Str("responseId", cancelledID).Msg("Assistant turn interrupted by user speech")
}

// OnUserTranscript appends a completed user utterance to the transcript.
func (b *Bridge) OnUserTranscript(text string) {
	b.metrics.EngineEvents.WithLabelValues("user_transcript").Inc()

	if strings.TrimSpace(text) == "" {
		return
	}
	b.appendMessage(models.RoleUser, text, time.Now().UTC(), false)
	b.forceSave(context.Background())
	b.sink.SendUserTranscription(text)
}

// OnResponseCreated begins a new assistant turn with a fresh accumulator.
func (b *Bridge) OnResponseCreated(responseID string) {
	b.metrics.EngineEvents.WithLabelValues("response_created").Inc()
	b.metrics.TurnsStarted.Inc()

	if discarded := b.turn.Begin(responseID, time.Now().UTC()); discarded {
		b.logger.Warn().Str("responseId", responseID).Msg("New response while a turn was active; discarding stale accumulator")
	}
	b.sink.SendResponseCreating()
}

// OnTextDelta streams an assistant transcript fragment to the client while
// accumulating it. Deltas for cancelled or stale response ids are dropped.
func (b *Bridge) OnTextDelta(responseID, text string) {
	b.metrics.EngineEvents.WithLabelValues("text_delta").Inc()

	if err := b.turn.AppendDelta(responseID, text); err != nil {
		b.logger.Debug().Err(err).Str("responseId", responseID).Msg("Dropped text delta")
		return
	}
	b.sink.SendAssistantDelta(text)
}

// OnAudioDelta streams assistant audio; audio for cancelled turns is dropped.
func (b *Bridge) OnAudioDelta(responseID, audioB64 string) {
	b.metrics.EngineEvents.WithLabelValues("audio_delta").Inc()

	if b.turn.IsCancelled(responseID) {
		return
	}
	b.sink.SendAssistantAudio(audioB64)
}

// OnResponseDone finalizes the assistant turn. The longer of the accumulated
// deltas and the engine's complete transcript wins.
func (b *Bridge) OnResponseDone(responseID, finalText string) {
	b.metrics.EngineEvents.WithLabelValues("response_done").Inc()

	sealed, err := b.turn.Complete(responseID, finalText)
	if err != nil {
		b.logger.Debug().Err(err).Str("responseId", responseID).Msg("Ignoring completion")
		return
	}
	b.metrics.TurnsCompleted.Inc()

	if strings.TrimSpace(sealed.Content) != "" {
		b.appendMessage(models.RoleAssistant, sealed.Content, sealed.StartedAt, false)
		b.forceSave(context.Background())
		b.sink.SendAssistantComplete(sealed.Content)
	}
	b.sink.SendResponseComplete()
}

// OnResponseCancelled acknowledges an engine-confirmed cancellation.
// The transcript entry was already written at interruption time.
func (b *Bridge) OnResponseCancelled(responseID string) {
	b.metrics.EngineEvents.WithLabelValues("response_cancelled").Inc()
	b.logger.Debug().Str("responseId", responseID).Msg("Engine confirmed cancellation")
}

// OnError classifies engine errors: transient protocol noise is swallowed,
// everything else aborts the current turn (no transcript entry) and is
// surfaced to the client.
func (b *Bridge) OnError(err error) {
	if engine.IsTransient(err) {
		b.metrics.EngineErrors.WithLabelValues("transient").Inc()
		b.logger.Debug().Err(err).Msg("Transient engine error")
		return
	}
	b.metrics.EngineErrors.WithLabelValues("fatal").Inc()

	if b.turn.Abort() {
		b.logger.Warn().Err(err).Msg("Engine error aborted the active turn")
	} else {
		b.logger.Warn().Err(err).Msg("Engine error")
	}
	b.sink.SendError(err.Error())
}

// --- persistence ---

// appendMessage seals content into the next transcript slot. Sequence
// numbers are assigned here and only here, so they stay gapless.
func (b *Bridge) appendMessage(role models.Role, content string, ts time.Time, interrupted bool) {
	b.mu.Lock()
	msg := models.TranscriptMessage{
		Sequence:    b.nextSeq,
		Role:        role,
		Content:     content,
		Timestamp:   ts,
		Interrupted: interrupted,
	}
	b.nextSeq++
	b.messages = append(b.messages, msg)
	username, conversationID := b.username, b.conversationID
	b.mu.Unlock()

	b.metrics.MessagesFinalized.WithLabelValues(string(role)).Inc()

	ev := models.MessageFinalized{
		EventType:      "conversation.transcript.message",
		Username:       username,
		ConversationID: conversationID,
		Sequence:       msg.Sequence,
		Role:           role,
		Content:        content,
		Interrupted:    interrupted,
		Timestamp:      time.Now().UnixMilli(),
	}
	if err := b.publisher.PublishMessage(context.Background(), conversationID, ev); err != nil {
		b.logger.Debug().Err(err).Msg("Failed to publish message event")
	}
}

// forceSave persists the transcript bypassing debounce/dedupe. Persistence
// failures never reach the live conversation; the store degrades internally.
func (b *Bridge) forceSave(ctx context.Context) {
	b.save(ctx, true)
}

func (b *Bridge) save(ctx context.Context, forced bool) {
	b.mu.Lock()
	snapshot := make([]models.TranscriptMessage, len(b.messages))
	copy(snapshot, b.messages)
	username, conversationID := b.username, b.conversationID
	sessionID, condition := b.sessionID, b.condition
	b.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}
	now := time.Now()

	if !forced && !b.registry.ShouldSave(sessionID, len(snapshot), now) {
		b.metrics.SavesSuppressed.Inc()
		return
	}

	if err := b.store.Upsert(ctx, username, conversationID, condition, snapshot); err != nil {
		// Category (c): logged, compensated by the store's fallback chain,
		// never aborts the turn.
		b.logger.Error().Err(err).Int("messages", len(snapshot)).Msg("Transcript save failed")
		return
	}
	if forced {
		b.registry.RecordSave(sessionID, len(snapshot), now)
	}

	ev := models.ConversationSaved{
		EventType:      "conversation.transcript.saved",
		Username:       username,
		ConversationID: conversationID,
		TotalMessages:  len(snapshot),
		Forced:         forced,
		Timestamp:      now.UnixMilli(),
	}
	if err := b.publisher.PublishSaved(context.Background(), conversationID, ev); err != nil {
		b.logger.Debug().Err(err).Msg("Failed to publish saved event")
	}
}

func (b *Bridge) autosaveLoop(stop <-chan struct{}) {
	interval := b.cfg.AutosaveInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.save(context.Background(), false)
		}
	}
}
