package models

import "time"

// SenderRole identifies which side of a conversation authored a message.
// Every conversation has exactly one coach and one client participant.
type SenderRole string

const (
	RoleCoach  SenderRole = "coach"
	RoleClient SenderRole = "client"
)

func (r SenderRole) Valid() bool {
	return r == RoleCoach || r == RoleClient
}

// Counterpart returns the other side of the conversation.
func (r SenderRole) Counterpart() SenderRole {
	if r == RoleCoach {
		return RoleClient
	}
	return RoleCoach
}

// Message is one entry in a conversation's ordered log. The conversation is
// keyed by the client's identifier; no separate conversation row exists.
// Read means "read by the counterpart of Sender" and only ever transitions
// false -> true.
type Message struct {
	ID               int64      `json:"id"`
	ConversationID   int64      `json:"conversation_id"`
	Sender           SenderRole `json:"sender"`
	RecipientAddress *string    `json:"recipient_address,omitempty"`
	Body             string     `json:"body"`
	CreatedAt        time.Time  `json:"created_at"`
	Read             bool       `json:"read"`
}

type ConversationSummary struct {
	ConversationID int64    `json:"conversation_id"`
	LastMessage    *Message `json:"last_message,omitempty"`
	UnreadCount    int      `json:"unread_count"`
}
