// Package reconcile decides startup behavior for a new connection and
// restores conversation context into the upstream engine.
package reconcile

import (
	"context"
	"fmt"

	"ai-voice-relay-service/internal/models"
	"ai-voice-relay-service/internal/service/engine"
)

// Decision is the startup behavior for a connection.
type Decision int

const (
	// DecisionGreet - first connection ever, no history: inject the scripted
	// opener and request a generated greeting turn.
	DecisionGreet Decision = iota
	// DecisionReplay - history exists: replay it as pure context, no
	// generated turn and no second greeting.
	DecisionReplay
	// DecisionSilent - pure transport reconnection with nothing to restore:
	// neither greet nor replay, wait for live input.
	DecisionSilent
)

// String returns the string representation of the decision.
func (d Decision) String() string {
	switch d {
	case DecisionGreet:
		return "GREET"
	case DecisionReplay:
		return "REPLAY"
	case DecisionSilent:
		return "SILENT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", d)
	}
}

// Decide picks the startup behavior. Replaying always wins when history
// exists, including resumption after a manual pause: replay is context-only,
// never a generated "welcome back" turn, so the engine is never prompted
// twice for the same history.
func Decide(isReconnection bool, priorCount int) Decision {
	if priorCount > 0 {
		return DecisionReplay
	}
	if isReconnection {
		return DecisionSilent
	}
	return DecisionGreet
}

// Apply performs the decided startup behavior against the engine.
//   - Greet: one injected opener item plus one response request.
//   - Replay: one context item per prior message, in original order and
//     role, with no response request.
//   - Silent: nothing.
func Apply(ctx context.Context, adapter engine.Adapter, decision Decision, prior []models.TranscriptMessage, opener string) error {
	switch decision {
	case DecisionGreet:
		if err := adapter.InjectUserText(ctx, opener); err != nil {
			return fmt.Errorf("inject opener: %w", err)
		}
		if err := adapter.CreateResponse(ctx); err != nil {
			return fmt.Errorf("request greeting: %w", err)
		}
		return nil

	case DecisionReplay:
		for _, msg := range prior {
			if err := adapter.InjectHistory(ctx, msg.Role, msg.Content); err != nil {
				return fmt.Errorf("replay message %d: %w", msg.Sequence, err)
			}
		}
		return nil

	case DecisionSilent:
		return nil

	default:
		return fmt.Errorf("unknown reconcile decision: %v", decision)
	}
}
