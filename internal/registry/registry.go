// Package registry tracks in-flight logical sessions to deduplicate and
// debounce transcript saves and to recognize resumption vs. fresh start.
// Never the source of truth for content.
package registry

import (
	"sync"
	"time"
)

// SessionRecord is the ephemeral per-session bookkeeping entry.
type SessionRecord struct {
	SessionID      string
	Username       string
	ConversationID string
	MessageCount   int
	LastSaveTime   time.Time
}

// SavePolicy decides whether an auto-save should proceed. It is a pure
// function of the last accepted save, so it can be tested without timers.
// Force saves (interruption, turn completion, stop, emergency) never
// consult it.
type SavePolicy struct {
	DebounceWindow time.Duration
}

// Allow reports whether a save with candidateCount messages should proceed.
func (p SavePolicy) Allow(last *SessionRecord, candidateCount int, now time.Time) bool {
	if candidateCount == 0 {
		return false
	}
	if last == nil {
		return true
	}
	if candidateCount <= last.MessageCount {
		return false
	}
	if now.Sub(last.LastSaveTime) < p.DebounceWindow {
		return false
	}
	return true
}

// Registry is the process-wide session tracker. Safe for concurrent
// connections; access is serialized per registry.
type Registry struct {
	mu        sync.Mutex
	policy    SavePolicy
	sessions  map[string]*SessionRecord
	evictions map[string]*time.Timer
}

// New creates a Registry with the given save policy.
func New(policy SavePolicy) *Registry {
	return &Registry{
		policy:    policy,
		sessions:  map[string]*SessionRecord{},
		evictions: map[string]*time.Timer{},
	}
}

// Track registers a session (or refreshes an existing one) and cancels any
// pending delayed eviction, so a quick reconnect keeps its dedupe state.
// Returns true if the session was already tracked (a resumption).
func (r *Registry) Track(sessionID, username, conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timer, ok := r.evictions[sessionID]; ok {
		timer.Stop()
		delete(r.evictions, sessionID)
	}

	if rec, ok := r.sessions[sessionID]; ok {
		rec.Username = username
		rec.ConversationID = conversationID
		return true
	}
	r.sessions[sessionID] = &SessionRecord{
		SessionID:      sessionID,
		Username:       username,
		ConversationID: conversationID,
	}
	return false
}

// ShouldSave consults the save policy for an auto-save and, when allowed,
// records the accepted save.
func (r *Registry) ShouldSave(sessionID string, candidateCount int, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.sessions[sessionID]
	if !r.policy.Allow(rec, candidateCount, now) {
		return false
	}
	if rec == nil {
		rec = &SessionRecord{SessionID: sessionID}
		r.sessions[sessionID] = rec
	}
	rec.MessageCount = candidateCount
	rec.LastSaveTime = now
	return true
}

// RecordSave notes an accepted force-save so the debounce baseline
// reflects reality.
func (r *Registry) RecordSave(sessionID string, count int, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		rec = &SessionRecord{SessionID: sessionID}
		r.sessions[sessionID] = rec
	}
	if count > rec.MessageCount {
		rec.MessageCount = count
	}
	rec.LastSaveTime = now
}

// Lookup returns a copy of the session record.
func (r *Registry) Lookup(sessionID string) (SessionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return SessionRecord{}, false
	}
	return *rec, true
}

// Evict removes tracking immediately. Used on explicit new-session requests
// so the next start is not confused with a resumption.
func (r *Registry) Evict(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timer, ok := r.evictions[sessionID]; ok {
		timer.Stop()
		delete(r.evictions, sessionID)
	}
	delete(r.sessions, sessionID)
}

// EvictAfter schedules eviction after a grace period. A Track call within
// the grace period cancels it, tolerating brief reconnects.
func (r *Registry) EvictAfter(sessionID string, grace time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timer, ok := r.evictions[sessionID]; ok {
		timer.Stop()
	}
	r.evictions[sessionID] = time.AfterFunc(grace, func() {
		r.Evict(sessionID)
	})
}
