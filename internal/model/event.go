package model

import (
	"time"
)

// EventName identifies a realtime event pushed to connected clients.
type EventName string

const (
	EventNewConversation EventName = "newConversation"
	EventNewMessage      EventName = "newMessage"
	EventOnlineUsers     EventName = "getOnlineUsers"
	EventChatMessage     EventName = "chat message"
	EventHeartbeat       EventName = "heartbeat"
)

// Event is a named payload delivered to connected clients.
type Event struct {
	Name    EventName `json:"event"`
	Payload any       `json:"data"`
}

// UserSummary is the sender/receiver shape embedded in message events.
type UserSummary struct {
	ID          string `json:"id"`
	Fullname    string `json:"fullname"`
	Username    string `json:"username"`
	Avatar      string `json:"avatar"`
	LastMessage string `json:"last_message"`
}

// NewConversationEvent is pushed when a direct conversation is created by its first message.
type NewConversationEvent struct {
	Message      *Message    `json:"message"`
	UpdatedAt    time.Time   `json:"updated_at"`
	Participants []string    `json:"participants"`
	Sender       UserSummary `json:"sender"`
	Receiver     UserSummary `json:"receiver"`
}

// NewMessageEvent is pushed on every message creation.
type NewMessageEvent struct {
	Message      *Message     `json:"message"`
	UpdatedAt    time.Time    `json:"updated_at"`
	Participants []string     `json:"participants"`
	Sender       *UserSummary `json:"sender,omitempty"`
}

// HeartbeatEvent keeps idle streams open.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent represents an error pushed over a stream.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
