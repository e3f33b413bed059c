package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ai-voice-relay-service/internal/events"
	"ai-voice-relay-service/internal/registry"
	"ai-voice-relay-service/internal/service/bridge"
	"ai-voice-relay-service/internal/service/engine"
	"ai-voice-relay-service/internal/service/engine/mock"
	"ai-voice-relay-service/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	reg := registry.New(registry.SavePolicy{DebounceWindow: 2 * time.Second})
	pub := events.New(&events.Config{Enabled: false})
	factory := func() engine.Adapter { return mock.New() }

	h := NewHandler(mem, reg, pub, factory, bridge.Config{
		OpeningPrompt:    "Please greet the user.",
		AutosaveInterval: time.Hour,
		EvictionGrace:    time.Hour,
	})

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, mem
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil collects server messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) []serverMessage {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	var got []serverMessage
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed waiting for %q (got %v so far): %v", wantType, got, err)
		}
		got = append(got, msg)
		if msg.Type == wantType {
			return got
		}
	}
	t.Fatalf("timed out waiting for %q, got %v", wantType, got)
	return nil
}

func startMessage() map[string]any {
	return map[string]any{
		"type":           "start",
		"username":       "alice",
		"sessionId":      "sess-1",
		"conversationId": "conv-1",
		"condition":      "baseline",
	}
}

func TestRelay_GreetingFlow(t *testing.T) {
	srv, mem := newTestServer(t)
	conn := dial(t, srv)

	if err := conn.WriteJSON(startMessage()); err != nil {
		t.Fatalf("write start: %v", err)
	}

	got := readUntil(t, conn, "response_complete")

	var sawCreating bool
	var deltas, completes []string
	for _, msg := range got {
		switch msg.Type {
		case "response_creating":
			sawCreating = true
		case "assistant_transcript_delta":
			deltas = append(deltas, msg.Text)
		case "assistant_transcript_complete":
			completes = append(completes, msg.Text)
		case "error":
			t.Fatalf("unexpected error message: %s", msg.Message)
		}
	}
	if !sawCreating {
		t.Error("expected a response_creating notice before deltas")
	}
	if len(deltas) == 0 {
		t.Error("expected streamed greeting deltas")
	}
	if len(completes) != 1 || completes[0] != "Hello! How are you today?" {
		t.Errorf("unexpected greeting transcript: %v", completes)
	}

	// The greeting is force-saved as message 0 before the client hears
	// the completion notice.
	rec, ok := mem.Record("alice", "conv-1")
	if !ok || rec.TotalMessages != 1 {
		t.Fatalf("expected persisted greeting, got %+v", rec)
	}
	if rec.Messages[0].Sequence != 0 || rec.Messages[0].Role != "assistant" {
		t.Errorf("unexpected greeting record: %+v", rec.Messages[0])
	}
}

func TestRelay_AudioTriggersExchange(t *testing.T) {
	srv, mem := newTestServer(t)
	conn := dial(t, srv)

	if err := conn.WriteJSON(startMessage()); err != nil {
		t.Fatalf("write start: %v", err)
	}
	readUntil(t, conn, "response_complete")

	// Enough frames for the scripted engine to detect one utterance.
	for i := 0; i < 5; i++ {
		if err := conn.WriteJSON(map[string]any{"type": "audio", "audio": "cGNtMTY="}); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}

	got := readUntil(t, conn, "response_complete")

	var userTexts []string
	for _, msg := range got {
		if msg.Type == "user_transcription" {
			userTexts = append(userTexts, msg.Text)
		}
	}
	if len(userTexts) != 1 || userTexts[0] != "Hi, can you hear me?" {
		t.Errorf("unexpected user transcription: %v", userTexts)
	}

	rec, ok := mem.Record("alice", "conv-1")
	if !ok {
		t.Fatal("expected persisted conversation")
	}
	// Greeting, user utterance, assistant reply.
	if rec.TotalMessages != 3 {
		t.Errorf("expected 3 persisted messages, got %d", rec.TotalMessages)
	}
}

func TestRelay_StopFlushesAndAllowsRestart(t *testing.T) {
	srv, mem := newTestServer(t)
	conn := dial(t, srv)

	if err := conn.WriteJSON(startMessage()); err != nil {
		t.Fatalf("write start: %v", err)
	}
	readUntil(t, conn, "response_complete")

	if err := conn.WriteJSON(map[string]any{"type": "stop", "requestNewSession": true}); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	// A new-session start under a fresh conversation id greets from scratch
	// instead of resuming.
	restart := startMessage()
	restart["conversationId"] = "conv-2"
	if err := conn.WriteJSON(restart); err != nil {
		t.Fatalf("write start: %v", err)
	}
	readUntil(t, conn, "response_complete")

	if rec, ok := mem.Record("alice", "conv-1"); !ok || rec.TotalMessages != 1 {
		t.Error("expected the stopped conversation to be flushed")
	}
	rec, ok := mem.Record("alice", "conv-2")
	if !ok || rec.TotalMessages != 1 {
		t.Fatalf("expected the new conversation to persist its greeting, got %+v", rec)
	}
	if rec.Messages[0].Content != "Hello! How are you today?" {
		t.Errorf("unexpected new-session greeting: %q", rec.Messages[0].Content)
	}
}

func TestRelay_MalformedAndUnknownMessages(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readUntil(t, conn, "error")
	if last := got[len(got)-1]; last.Message != "malformed message" {
		t.Errorf("unexpected error payload: %q", last.Message)
	}

	if err := conn.WriteJSON(map[string]any{"type": "warble"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got = readUntil(t, conn, "error")
	if last := got[len(got)-1]; !strings.Contains(last.Message, "unknown message type") {
		t.Errorf("unexpected error payload: %q", last.Message)
	}
}

func TestRelay_StartRequiresIdentity(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	if err := conn.WriteJSON(map[string]any{"type": "start", "username": "alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readUntil(t, conn, "error")
	if last := got[len(got)-1]; !strings.Contains(last.Message, "start requires") {
		t.Errorf("unexpected error payload: %q", last.Message)
	}
}

func TestRelay_UpgradeRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for plain HTTP request, got %d", resp.StatusCode)
	}
}
