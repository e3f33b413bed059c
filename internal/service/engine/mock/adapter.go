// Package mock provides a scripted dialogue engine for development and tests.
// It simulates realistic engine behavior: speech detection after a few audio
// frames, an asynchronous user transcription, then a streamed assistant turn
// with deltas and a completion carrying the full transcript.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ai-voice-relay-service/internal/models"
	"ai-voice-relay-service/internal/service/engine"
)

// SimulatedExchange is one scripted user utterance and assistant reply.
type SimulatedExchange struct {
	UserTranscript string
	ReplyDeltas    []string
	ReplyFinal     string
}

// DefaultExchanges provides sample exchanges for simulation.
var DefaultExchanges = []SimulatedExchange{
	{
		UserTranscript: "Hi, can you hear me?",
		ReplyDeltas:    []string{"Yes, ", "I can ", "hear you ", "loud and clear."},
		ReplyFinal:     "Yes, I can hear you loud and clear.",
	},
	{
		UserTranscript: "Tell me something interesting.",
		ReplyDeltas:    []string{"Octopuses ", "have ", "three hearts."},
		ReplyFinal:     "Octopuses have three hearts and blue blood.",
	},
	{
		UserTranscript: "Thanks, that's all for today.",
		ReplyDeltas:    []string{"You're ", "welcome. ", "Talk soon!"},
		ReplyFinal:     "You're welcome. Talk soon!",
	},
}

// framesPerUtterance is how many audio frames trigger a simulated utterance.
const framesPerUtterance = 5

// Adapter implements engine.Adapter with scripted responses.
type Adapter struct {
	mu            sync.Mutex
	cb            engine.Callback
	exchanges     []SimulatedExchange
	exchangeIndex int
	frames        int
	responseSeq   int
	history       []string
	open          bool
	cancelled     map[string]bool
}

// New creates a new mock engine adapter with the default script.
func New() *Adapter {
	return &Adapter{
		exchanges: DefaultExchanges,
		cancelled: map[string]bool{},
	}
}

// NewWithScript creates a mock engine with a custom exchange script.
func NewWithScript(exchanges []SimulatedExchange) *Adapter {
	return &Adapter{
		exchanges: exchanges,
		cancelled: map[string]bool{},
	}
}

// Start begins a mock engine session.
func (a *Adapter) Start(ctx context.Context, cfg engine.SessionConfig, cb engine.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	a.open = true
	return nil
}

// SendAudio counts frames; every few frames it simulates a full exchange:
// speech start, transcription complete, then a streamed assistant reply.
func (a *Adapter) SendAudio(ctx context.Context, audioB64 string) error {
	a.mu.Lock()
	if !a.open || a.cb == nil {
		a.mu.Unlock()
		return nil
	}
	a.frames++
	trigger := a.frames%framesPerUtterance == 0 && len(a.exchanges) > 0
	var ex SimulatedExchange
	if trigger {
		ex = a.exchanges[a.exchangeIndex%len(a.exchanges)]
		a.exchangeIndex++
	}
	cb := a.cb
	a.mu.Unlock()

	if trigger {
		go a.playExchange(cb, ex)
	}
	return nil
}

func (a *Adapter) playExchange(cb engine.Callback, ex SimulatedExchange) {
	cb.OnSpeechStarted()
	time.Sleep(20 * time.Millisecond)
	cb.OnUserTranscript(ex.UserTranscript)
	a.playReply(cb, ex.ReplyDeltas, ex.ReplyFinal)
}

func (a *Adapter) playReply(cb engine.Callback, deltas []string, final string) {
	id := a.nextResponseID()
	cb.OnResponseCreated(id)
	for _, d := range deltas {
		time.Sleep(10 * time.Millisecond)
		if a.isCancelled(id) {
			return
		}
		cb.OnTextDelta(id, d)
	}
	if a.isCancelled(id) {
		return
	}
	if final == "" {
		final = strings.Join(deltas, "")
	}
	cb.OnResponseDone(id, final)
}

// InjectHistory records a context item; the mock never responds to history.
func (a *Adapter) InjectHistory(ctx context.Context, role models.Role, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, string(role)+": "+text)
	return nil
}

// InjectUserText records a scripted opener item.
func (a *Adapter) InjectUserText(ctx context.Context, text string) error {
	return a.InjectHistory(ctx, models.RoleUser, text)
}

// CreateResponse plays a scripted greeting turn.
func (a *Adapter) CreateResponse(ctx context.Context) error {
	a.mu.Lock()
	cb := a.cb
	open := a.open
	a.mu.Unlock()
	if !open || cb == nil {
		return fmt.Errorf("mock engine is not started")
	}
	go a.playReply(cb, []string{"Hello! ", "How are ", "you today?"}, "Hello! How are you today?")
	return nil
}

// CancelResponse marks a response cancelled so its remaining deltas are dropped.
func (a *Adapter) CancelResponse(ctx context.Context, responseID string) error {
	a.mu.Lock()
	a.cancelled[responseID] = true
	cb := a.cb
	a.mu.Unlock()
	if cb != nil {
		go cb.OnResponseCancelled(responseID)
	}
	return nil
}

// IsOpen reports whether the mock session is started.
func (a *Adapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}

// Close ends the mock session.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = false
	return nil
}

// HistoryItems returns the context items injected so far.
func (a *Adapter) HistoryItems() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.history))
	copy(out, a.history)
	return out
}

func (a *Adapter) nextResponseID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responseSeq++
	return fmt.Sprintf("mock-resp-%d", a.responseSeq)
}

func (a *Adapter) isCancelled(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled[id]
}
