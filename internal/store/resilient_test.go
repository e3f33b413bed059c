package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-voice-relay-service/internal/models"
)

// flakyStore fails a configurable number of upserts before delegating
// to an in-memory store.
type flakyStore struct {
	inner     *Memory
	failures  int
	upserts   int
	readErr   error
	readCalls int
}

func (f *flakyStore) Upsert(ctx context.Context, username, conversationID, condition string, msgs []models.TranscriptMessage) error {
	f.upserts++
	if f.upserts <= f.failures {
		return errors.New("transient store failure")
	}
	return f.inner.Upsert(ctx, username, conversationID, condition, msgs)
}

func (f *flakyStore) Read(ctx context.Context, username, conversationID string) ([]models.TranscriptMessage, error) {
	f.readCalls++
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.inner.Read(ctx, username, conversationID)
}

func msgs(n int) []models.TranscriptMessage {
	out := make([]models.TranscriptMessage, n)
	for i := range out {
		out[i] = models.TranscriptMessage{Sequence: i, Role: models.RoleUser, Content: "m"}
	}
	return out
}

func TestResilient_PrimarySucceeds(t *testing.T) {
	primary := &flakyStore{inner: NewMemory()}
	fallback := NewMemory()
	r := NewResilient(primary, fallback, 3, time.Millisecond)
	ctx := context.Background()

	if err := r.Upsert(ctx, "alice", "conv-1", "", msgs(2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := primary.inner.Read(ctx, "alice", "conv-1")
	if len(got) != 2 {
		t.Errorf("expected 2 messages in primary, got %d", len(got))
	}
	if fb, _ := fallback.Read(ctx, "alice", "conv-1"); fb != nil {
		t.Error("expected fallback untouched when primary succeeds")
	}
}

func TestResilient_RetriesThenSucceeds(t *testing.T) {
	primary := &flakyStore{inner: NewMemory(), failures: 2}
	r := NewResilient(primary, NewMemory(), 3, time.Millisecond)
	ctx := context.Background()

	if err := r.Upsert(ctx, "alice", "conv-1", "", msgs(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.upserts != 3 {
		t.Errorf("expected 3 primary attempts, got %d", primary.upserts)
	}
	if got, _ := primary.inner.Read(ctx, "alice", "conv-1"); len(got) != 1 {
		t.Error("expected the final retry to land in the primary")
	}
}

func TestResilient_ExhaustedRetriesDegradeToFallback(t *testing.T) {
	primary := &flakyStore{inner: NewMemory(), failures: 100}
	fallback := NewMemory()
	r := NewResilient(primary, fallback, 3, time.Millisecond)
	ctx := context.Background()

	if err := r.Upsert(ctx, "alice", "conv-1", "", msgs(2)); err != nil {
		t.Fatalf("expected fallback to absorb the write, got %v", err)
	}
	if primary.upserts != 3 {
		t.Errorf("expected exactly 3 primary attempts, got %d", primary.upserts)
	}
	if got, _ := fallback.Read(ctx, "alice", "conv-1"); len(got) != 2 {
		t.Error("expected the write in the fallback store")
	}
}

func TestResilient_NoPrimaryWritesFallbackDirectly(t *testing.T) {
	fallback := NewMemory()
	r := NewResilient(nil, fallback, 3, time.Millisecond)
	ctx := context.Background()

	if err := r.Upsert(ctx, "alice", "conv-1", "", msgs(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := fallback.Read(ctx, "alice", "conv-1"); len(got) != 1 {
		t.Error("expected the write in the fallback store")
	}
}

func TestResilient_ReadFallsBack(t *testing.T) {
	primary := &flakyStore{inner: NewMemory(), readErr: errors.New("primary down")}
	fallback := NewMemory()
	ctx := context.Background()
	fallback.Upsert(ctx, "alice", "conv-1", "", msgs(3))

	r := NewResilient(primary, fallback, 3, time.Millisecond)
	got, err := r.Read(ctx, "alice", "conv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 messages from fallback, got %d", len(got))
	}
}

func TestResilient_CancelledContextStopsRetries(t *testing.T) {
	primary := &flakyStore{inner: NewMemory(), failures: 100}
	fallback := NewMemory()
	r := NewResilient(primary, fallback, 5, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The write still lands in the fallback; cancellation only cuts the
	// retry loop short.
	if err := r.Upsert(ctx, "alice", "conv-1", "", msgs(1)); err != nil {
		t.Fatalf("expected fallback to absorb the write, got %v", err)
	}
	if primary.upserts >= 5 {
		t.Errorf("expected cancellation to stop retries early, got %d attempts", primary.upserts)
	}
}
