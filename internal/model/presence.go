package model

import (
	"time"
)

// PresenceRecord is one participant's ephemeral presence entry on a
// presence channel. Records live only in channel memory and expire through
// the channel's own liveness detection, never through a persisted TTL.
type PresenceRecord struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	IsTyping bool      `json:"is_typing"`
	Online   bool      `json:"online"`
	SentAt   time.Time `json:"sent_at"`
}

// TypingParticipant is the externally visible shape of a remote participant
// currently marked typing.
type TypingParticipant struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// SetTypingRequest is the request to publish the caller's typing state.
type SetTypingRequest struct {
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}
