package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Request limits.
const (
	MaxMessageLength = 100000
	MaxGroupName     = 256
	MaxUsername      = 64
	MaxIDsPerRequest = 256
)

// ValidateMessageContent validates message text. Empty text is allowed here;
// the service decides whether a message without media may be empty.
func ValidateMessageContent(content string) error {
	if len(content) > MaxMessageLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateEntityID validates a server-generated id (conversation, message,
// story).
func ValidateEntityID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid id format")
	}
	return nil
}

// ValidateUserIDs validates a list of subject ids supplied by a client.
func ValidateUserIDs(ids []string) error {
	if len(ids) == 0 {
		return errors.New("at least one user id is required")
	}
	if len(ids) > MaxIDsPerRequest {
		return errors.New("too many user ids")
	}
	for _, id := range ids {
		if id == "" {
			return errors.New("user ids cannot be empty")
		}
	}
	return nil
}

// ValidateGroupName validates a group display name.
func ValidateGroupName(name string) error {
	if len(name) > MaxGroupName {
		return errors.New("group name exceeds maximum length")
	}
	if !utf8.ValidString(name) {
		return errors.New("group name must be valid UTF-8")
	}
	return nil
}

// ValidateUsername validates a username path parameter.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if len(username) > MaxUsername {
		return errors.New("username exceeds maximum length")
	}
	return nil
}
