// Package models defines the transcript data structures shared across the relay.
package models

import "time"

// Role identifies the speaker of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TranscriptMessage is one finalized utterance in a conversation.
// Sequence numbers are strictly increasing and gapless within a conversation;
// once a message is appended to the transcript it is immutable.
type TranscriptMessage struct {
	Sequence    int       `json:"sequence"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Interrupted bool      `json:"interrupted"`
}

// Conversation is the persisted record for one (username, conversationId) key.
type Conversation struct {
	Username       string              `json:"username"`
	ConversationID string              `json:"conversation_id"`
	Condition      string              `json:"condition"`
	Timestamp      time.Time           `json:"timestamp"`
	Messages       []TranscriptMessage `json:"messages"`
	TotalMessages  int                 `json:"total_messages"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// MessageFinalized is the event published when a TranscriptMessage is sealed.
type MessageFinalized struct {
	EventType      string `json:"eventType"`
	Username       string `json:"username"`
	ConversationID string `json:"conversationId"`
	Sequence       int    `json:"sequence"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`
	Interrupted    bool   `json:"interrupted"`
	Timestamp      int64  `json:"timestamp"`
}

// ConversationSaved is the event published when a persist attempt is accepted.
type ConversationSaved struct {
	EventType      string `json:"eventType"`
	Username       string `json:"username"`
	ConversationID string `json:"conversationId"`
	TotalMessages  int    `json:"totalMessages"`
	Forced         bool   `json:"forced"`
	Timestamp      int64  `json:"timestamp"`
}
