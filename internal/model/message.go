package model

import (
	"time"
)

// Message represents a chat message.
type Message struct {
	// Identity
	ID             string `json:"id" bson:"_id"`
	ConversationID string `json:"conversation_id" bson:"conversation_id"`
	SenderID       string `json:"sender_id" bson:"sender_id"`

	// Content
	Content string `json:"content" bson:"content"`
	Media   string `json:"media,omitempty" bson:"media,omitempty"`

	// State
	ReadBy    []string `json:"read_by" bson:"read_by"`
	IsEdited  bool     `json:"is_edited" bson:"is_edited"`
	IsDeleted bool     `json:"is_deleted" bson:"is_deleted"`

	// Timestamps
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`

	// Store-assigned insertion sequence, the authoritative ordering key.
	Sequence uint64 `json:"sequence" bson:"seq"`
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	out := *m
	out.ReadBy = append([]string(nil), m.ReadBy...)
	return &out
}

// MessageWithSender pairs a message with its sender's profile, if known.
type MessageWithSender struct {
	*Message
	Sender *User `json:"sender,omitempty"`
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	Content string `json:"content"`
	Media   string `json:"media,omitempty"`
}

// SendMessageResponse is the response after sending a message.
type SendMessageResponse struct {
	Message *Message `json:"message"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []*Message `json:"messages"`
}
