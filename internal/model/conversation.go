// Package model defines data structures for the realtime sync core.
package model

import (
	"time"
)

// Conversation represents a conversation thread. Immutable after creation
// except timestamps; owned jointly by its participants.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participant is a (conversation, user) membership pair, unique per pair.
// It defines the authorization boundary: a mutation on a conversation or
// its messages/reactions is permitted iff the acting user holds a
// Participant row for that conversation at call time.
type Participant struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
}

// ConversationResponse is the response after creating or fetching a
// conversation.
type ConversationResponse struct {
	Conversation Conversation  `json:"conversation"`
	Participants []Participant `json:"participants,omitempty"`
}
