package model

import (
	"time"
)

// Message represents a conversation message.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`

	// Content
	Content  string `json:"content"`
	MediaKey string `json:"media_key,omitempty"`

	// Mutable flags (last-writer-wins scalars)
	IsLiked bool `json:"is_liked"`
	IsSaved bool `json:"is_saved"`

	// Transcription (nullable until the transcribe boundary fills it in)
	Transcription       *string `json:"transcription,omitempty"`
	TranscriptionStatus string  `json:"transcription_status,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessagePatch carries the mutable fields of a message. Nil pointers mean
// "leave unchanged".
type MessagePatch struct {
	IsLiked             *bool   `json:"is_liked,omitempty"`
	IsSaved             *bool   `json:"is_saved,omitempty"`
	Transcription       *string `json:"transcription,omitempty"`
	TranscriptionStatus *string `json:"transcription_status,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p MessagePatch) IsZero() bool {
	return p.IsLiked == nil && p.IsSaved == nil &&
		p.Transcription == nil && p.TranscriptionStatus == nil
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	Content  string `json:"content"`
	MediaKey string `json:"media_key,omitempty"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}
