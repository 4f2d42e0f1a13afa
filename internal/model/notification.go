package model

import (
	"time"
)

// NotificationKind tags a notification for client-side grouping.
type NotificationKind string

const (
	NotificationMessage  NotificationKind = "message"
	NotificationReaction NotificationKind = "reaction"
	NotificationSystem   NotificationKind = "system"
)

// Notification is a per-user inbox entry created by server-side triggers and
// consumed by clients over the notifications change stream.
type Notification struct {
	ID             string           `json:"id"`
	TargetUserID   string           `json:"target_user_id"`
	Kind           NotificationKind `json:"kind"`
	Body           string           `json:"body"`
	ConversationID string           `json:"conversation_id,omitempty"`
	MessageID      string           `json:"message_id,omitempty"`
	Read           bool             `json:"read"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ListNotificationsResponse is the response for listing notifications.
type ListNotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
	Unread        int            `json:"unread"`
}
