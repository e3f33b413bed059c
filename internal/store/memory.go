package store

import (
	"context"
	"sync"
	"time"

	"ai-voice-relay-service/internal/models"
)

// Memory is an in-process Store used by tests and as a primary when no
// durable backend is configured. Safe for concurrent connections.
type Memory struct {
	mu      sync.Mutex
	records map[string]*models.Conversation
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: map[string]*models.Conversation{}}
}

func memKey(username, conversationID string) string {
	return username + "/" + conversationID
}

// Upsert applies the length-dominance rule.
func (m *Memory) Upsert(ctx context.Context, username, conversationID, condition string, msgs []models.TranscriptMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memKey(username, conversationID)
	if existing, ok := m.records[key]; ok && len(msgs) <= existing.TotalMessages {
		return nil
	}

	copied := make([]models.TranscriptMessage, len(msgs))
	copy(copied, msgs)
	now := time.Now().UTC()
	rec := &models.Conversation{
		Username:       username,
		ConversationID: conversationID,
		Condition:      condition,
		Timestamp:      now,
		Messages:       copied,
		TotalMessages:  len(copied),
		UpdatedAt:      now,
	}
	if existing, ok := m.records[key]; ok {
		rec.Timestamp = existing.Timestamp
	}
	m.records[key] = rec
	return nil
}

// Read returns the stored messages, or nil if absent.
func (m *Memory) Read(ctx context.Context, username, conversationID string) ([]models.TranscriptMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[memKey(username, conversationID)]
	if !ok {
		return nil, nil
	}
	out := make([]models.TranscriptMessage, len(rec.Messages))
	copy(out, rec.Messages)
	return out, nil
}

// Record returns the full stored conversation for assertions in tests.
func (m *Memory) Record(username, conversationID string) (models.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[memKey(username, conversationID)]
	if !ok {
		return models.Conversation{}, false
	}
	return *rec, true
}
