// Package store provides durable keyed upsert/read of conversation transcripts.
package store

import (
	"context"

	"ai-voice-relay-service/internal/models"
)

// Store is a keyed transcript store. Implementations must apply the
// length-dominance rule on upsert: a write with the same or fewer messages
// than the stored record is a no-op, so duplicate or out-of-order saves can
// never clobber newer data.
type Store interface {
	// Upsert inserts or overwrites the record for (username, conversationID)
	// when msgs is strictly longer than what is stored.
	Upsert(ctx context.Context, username, conversationID, condition string, msgs []models.TranscriptMessage) error

	// Read returns the stored ordered message list, or nil if absent.
	Read(ctx context.Context, username, conversationID string) ([]models.TranscriptMessage, error)
}
