package registry

import (
	"testing"
	"time"
)

func TestSavePolicy_Allow(t *testing.T) {
	policy := SavePolicy{DebounceWindow: 2 * time.Second}
	now := time.Now()

	tests := []struct {
		name  string
		last  *SessionRecord
		count int
		at    time.Time
		want  bool
	}{
		{"zero messages never saves", nil, 0, now, false},
		{"first save allowed", nil, 1, now, true},
		{"equal count suppressed", &SessionRecord{MessageCount: 3, LastSaveTime: now.Add(-time.Minute)}, 3, now, false},
		{"fewer messages suppressed", &SessionRecord{MessageCount: 3, LastSaveTime: now.Add(-time.Minute)}, 2, now, false},
		{"new content outside window allowed", &SessionRecord{MessageCount: 3, LastSaveTime: now.Add(-time.Minute)}, 4, now, true},
		{"new content inside window suppressed", &SessionRecord{MessageCount: 3, LastSaveTime: now.Add(-time.Second)}, 4, now, false},
		{"exactly at window boundary allowed", &SessionRecord{MessageCount: 3, LastSaveTime: now.Add(-2 * time.Second)}, 4, now, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.Allow(tt.last, tt.count, tt.at); got != tt.want {
				t.Errorf("Allow() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistry_ShouldSave_UpdatesRecord(t *testing.T) {
	r := New(SavePolicy{DebounceWindow: 2 * time.Second})
	now := time.Now()

	r.Track("sess-1", "alice", "conv-1")

	if !r.ShouldSave("sess-1", 2, now) {
		t.Fatal("expected first save to be allowed")
	}
	// Same count again: suppressed.
	if r.ShouldSave("sess-1", 2, now.Add(time.Minute)) {
		t.Error("expected save with unchanged count to be suppressed")
	}
	// More content but within the debounce window: suppressed.
	if r.ShouldSave("sess-1", 3, now.Add(time.Second)) {
		t.Error("expected save inside debounce window to be suppressed")
	}
	// More content outside the window: allowed, record updated.
	if !r.ShouldSave("sess-1", 3, now.Add(3*time.Second)) {
		t.Error("expected save with new content outside window to be allowed")
	}

	rec, ok := r.Lookup("sess-1")
	if !ok {
		t.Fatal("expected session record to exist")
	}
	if rec.MessageCount != 3 {
		t.Errorf("expected message count 3, got %d", rec.MessageCount)
	}
}

func TestRegistry_Track_ReportsResumption(t *testing.T) {
	r := New(SavePolicy{})

	if resumed := r.Track("sess-1", "alice", "conv-1"); resumed {
		t.Error("expected first track to report a fresh session")
	}
	if resumed := r.Track("sess-1", "alice", "conv-1"); !resumed {
		t.Error("expected second track to report resumption")
	}
}

func TestRegistry_RecordSave_SetsBaseline(t *testing.T) {
	r := New(SavePolicy{DebounceWindow: time.Second})
	now := time.Now()

	r.Track("sess-1", "alice", "conv-1")
	// A force save lands 4 messages.
	r.RecordSave("sess-1", 4, now)

	// The auto-saver then has nothing new.
	if r.ShouldSave("sess-1", 4, now.Add(time.Minute)) {
		t.Error("expected auto-save to be suppressed after force save of same count")
	}
	if !r.ShouldSave("sess-1", 5, now.Add(time.Minute)) {
		t.Error("expected auto-save with new content to proceed")
	}

	// RecordSave never regresses the count.
	r.RecordSave("sess-1", 2, now.Add(2*time.Minute))
	rec, _ := r.Lookup("sess-1")
	if rec.MessageCount != 5 {
		t.Errorf("expected count to stay at 5, got %d", rec.MessageCount)
	}
}

func TestRegistry_Evict(t *testing.T) {
	r := New(SavePolicy{})
	r.Track("sess-1", "alice", "conv-1")

	r.Evict("sess-1")

	if _, ok := r.Lookup("sess-1"); ok {
		t.Error("expected session to be evicted")
	}
	// A fresh start after eviction is not a resumption.
	if resumed := r.Track("sess-1", "alice", "conv-2"); resumed {
		t.Error("expected track after eviction to report a fresh session")
	}
}

func TestRegistry_EvictAfter_GracePeriod(t *testing.T) {
	r := New(SavePolicy{})
	r.Track("sess-1", "alice", "conv-1")

	r.EvictAfter("sess-1", 20*time.Millisecond)

	// Still tracked inside the grace period.
	if _, ok := r.Lookup("sess-1"); !ok {
		t.Error("expected session to survive inside the grace period")
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := r.Lookup("sess-1"); ok {
		t.Error("expected session to be evicted after the grace period")
	}
}

func TestRegistry_Track_CancelsPendingEviction(t *testing.T) {
	r := New(SavePolicy{})
	r.Track("sess-1", "alice", "conv-1")
	r.EvictAfter("sess-1", 30*time.Millisecond)

	// Reconnect within the grace period.
	if resumed := r.Track("sess-1", "alice", "conv-1"); !resumed {
		t.Error("expected reconnect to report resumption")
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := r.Lookup("sess-1"); !ok {
		t.Error("expected reconnect to cancel the pending eviction")
	}
}
