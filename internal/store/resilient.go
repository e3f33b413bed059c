package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/models"
	"ai-voice-relay-service/internal/observability/logging"
	"ai-voice-relay-service/internal/observability/metrics"
)

// Resilient wraps a primary Store with bounded retry and a durable local
// fallback. Writes are at-least-once from the caller's perspective; because
// every backend applies the length-dominance rule, retries cannot corrupt
// state. Once the fallback has accepted a write, the live conversation never
// sees a persistence error.
type Resilient struct {
	primary  Store // may be nil when no durable backend is configured
	fallback Store
	attempts int
	backoff  time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewResilient creates the retry/fallback wrapper.
func NewResilient(primary, fallback Store, attempts int, backoff time.Duration) *Resilient {
	if attempts < 1 {
		attempts = 1
	}
	return &Resilient{
		primary:  primary,
		fallback: fallback,
		attempts: attempts,
		backoff:  backoff,
		metrics:  metrics.DefaultMetrics,
		logger:   logging.WithComponent("store"),
	}
}

// Upsert tries the primary with bounded backoff, then degrades to the
// fallback. The error returned reflects the fallback only.
func (r *Resilient) Upsert(ctx context.Context, username, conversationID, condition string, msgs []models.TranscriptMessage) error {
	if r.primary != nil {
		start := time.Now()
		err := r.tryPrimary(ctx, username, conversationID, condition, msgs)
		if err == nil {
			r.metrics.RecordSave("primary", "ok", time.Since(start).Seconds())
			return nil
		}
		r.metrics.RecordSave("primary", "error", time.Since(start).Seconds())
		r.metrics.StoreFallbacks.Inc()
		r.logger.Warn().
			Err(err).
			Str("username", username).
			Str("conversationId", conversationID).
			Int("messages", len(msgs)).
			Msg("Primary store failed, degrading to local fallback")
	}

	start := time.Now()
	if err := r.fallback.Upsert(ctx, username, conversationID, condition, msgs); err != nil {
		r.metrics.RecordSave("fallback", "error", time.Since(start).Seconds())
		return fmt.Errorf("fallback store: %w", err)
	}
	r.metrics.RecordSave("fallback", "ok", time.Since(start).Seconds())
	return nil
}

func (r *Resilient) tryPrimary(ctx context.Context, username, conversationID, condition string, msgs []models.TranscriptMessage) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = r.primary.Upsert(ctx, username, conversationID, condition, msgs)
		if err == nil {
			return nil
		}
		if attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff * time.Duration(attempt)):
		}
	}
	return err
}

// Read hydrates history from the primary, falling back to the local store.
// Only called at conversation start.
func (r *Resilient) Read(ctx context.Context, username, conversationID string) ([]models.TranscriptMessage, error) {
	if r.primary != nil {
		msgs, err := r.primary.Read(ctx, username, conversationID)
		if err == nil {
			return msgs, nil
		}
		r.logger.Warn().
			Err(err).
			Str("username", username).
			Str("conversationId", conversationID).
			Msg("Primary store read failed, trying local fallback")
	}
	return r.fallback.Read(ctx, username, conversationID)
}
