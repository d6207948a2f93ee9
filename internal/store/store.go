// Package store defines the persistence contract for conversations,
// messages, stories and user profiles. Writes are atomic per entity; no
// multi-entity transactions are assumed.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/talkora/chat-platform/internal/model"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a direct conversation already exists for a pair.
	ErrConflict = errors.New("store: conflict")
)

// StoryQuery selects stories. Zero-valued fields do not filter. Stories
// expired at ActiveAt are never returned.
type StoryQuery struct {
	ID       string
	UserID   string
	Username string
	UserIDs  []string
	ActiveAt time.Time
}

// Matches reports whether s satisfies q.
func (q StoryQuery) Matches(s *model.Story) bool {
	if s.ExpiredAt(q.ActiveAt) {
		return false
	}
	if q.ID != "" && s.ID != q.ID {
		return false
	}
	if q.UserID != "" && s.UserID != q.UserID {
		return false
	}
	if q.Username != "" && s.Username != q.Username {
		return false
	}
	if len(q.UserIDs) > 0 {
		found := false
		for _, id := range q.UserIDs {
			if id == s.UserID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Store is the durable persistence layer.
type Store interface {
	// FindDirectConversation returns the direct conversation between a and b.
	FindDirectConversation(ctx context.Context, a, b string) (*model.Conversation, error)
	// CreateConversation inserts c. A direct conversation whose pair already
	// exists yields ErrConflict.
	CreateConversation(ctx context.Context, c *model.Conversation) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	SaveConversation(ctx context.Context, c *model.Conversation) error
	// TouchConversation sets only the last message reference and update time,
	// leaving membership untouched.
	TouchConversation(ctx context.Context, id, lastMessageID string, updatedAt time.Time) error
	// DeleteConversation removes the conversation and its messages.
	DeleteConversation(ctx context.Context, id string) error
	FindConversationsByParticipant(ctx context.Context, userID string) ([]*model.Conversation, error)
	DeleteEmptyConversations(ctx context.Context) (int, error)

	// CreateMessage inserts m and assigns its Sequence.
	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	SaveMessage(ctx context.Context, m *model.Message) error
	// FindMessages returns a conversation's messages in insertion order.
	FindMessages(ctx context.Context, conversationID string) ([]*model.Message, error)
	FindLastMessage(ctx context.Context, conversationID string) (*model.Message, error)
	DeleteMessage(ctx context.Context, id string) error

	CreateStory(ctx context.Context, s *model.Story) error
	SaveStory(ctx context.Context, s *model.Story) error
	// FindStories returns matching active stories, oldest first.
	FindStories(ctx context.Context, q StoryQuery) ([]*model.Story, error)
	PurgeExpiredStories(ctx context.Context, before time.Time) (int, error)

	SaveUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	// GetUsers returns the known users among ids, in ids order.
	GetUsers(ctx context.Context, ids []string) ([]*model.User, error)

	Ping(ctx context.Context) error
	Close() error
}
