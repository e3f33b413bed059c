// Package file provides a local durable fallback transcript store.
// It keeps one JSON file per (username, conversationId) key and applies the
// same length-dominance rule as the primary store, so a degraded save can
// never regress a newer one.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ai-voice-relay-service/internal/models"
)

// Store persists conversation records under a local directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates a file store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// path returns the file path for a conversation key. Key parts are
// sanitized so they cannot escape the store directory.
func (s *Store) path(username, conversationID string) string {
	name := sanitize(username) + "__" + sanitize(conversationID) + ".json"
	return filepath.Join(s.dir, name)
}

func sanitize(part string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", string(os.PathSeparator), "_")
	return replacer.Replace(part)
}

// Upsert writes the record if msgs is strictly longer than the stored one.
// The write is atomic (temp file + rename).
func (s *Store) Upsert(ctx context.Context, username, conversationID, condition string, msgs []models.TranscriptMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(username, conversationID)
	existing, err := s.load(path)
	if err != nil {
		return err
	}
	if existing != nil && len(msgs) <= existing.TotalMessages {
		return nil
	}

	now := time.Now().UTC()
	rec := models.Conversation{
		Username:       username,
		ConversationID: conversationID,
		Condition:      condition,
		Timestamp:      now,
		Messages:       msgs,
		TotalMessages:  len(msgs),
		UpdatedAt:      now,
	}
	if existing != nil {
		rec.Timestamp = existing.Timestamp
	}

	payload, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".transcript-*")
	if err != nil {
		return fmt.Errorf("file store: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store: rename: %w", err)
	}
	return nil
}

// Read returns the stored messages, or nil if the key is absent.
func (s *Store) Read(ctx context.Context, username, conversationID string) ([]models.TranscriptMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(s.path(username, conversationID))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return rec.Messages, nil
}

func (s *Store) load(path string) (*models.Conversation, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read: %w", err)
	}
	var rec models.Conversation
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("file store: unmarshal: %w", err)
	}
	return &rec, nil
}
