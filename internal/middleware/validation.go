package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateMessageID validates a message ID.
func ValidateMessageID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid message ID format")
	}
	return nil
}

// ValidateUserID validates a user ID.
func ValidateUserID(id string) error {
	if len(id) == 0 {
		return errors.New("user ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("user ID exceeds maximum length")
	}
	return nil
}

// ValidateEmoji validates a reaction emoji.
func ValidateEmoji(emoji string) error {
	if len(emoji) == 0 {
		return errors.New("emoji cannot be empty")
	}
	if utf8.RuneCountInString(emoji) > 8 {
		return errors.New("emoji exceeds maximum length")
	}
	if !utf8.ValidString(emoji) {
		return errors.New("emoji must be valid UTF-8")
	}
	return nil
}
