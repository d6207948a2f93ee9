// Package service provides the business logic of the chat platform:
// conversations, messages, stories and profiles.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/talkora/chat-platform/internal/apperr"
	"github.com/talkora/chat-platform/internal/membership"
	"github.com/talkora/chat-platform/internal/model"
	"github.com/talkora/chat-platform/internal/store"
)

const tracerName = "github.com/talkora/chat-platform/internal/service"

// Publisher pushes events to connected subjects. Implementations must not
// block on slow or offline recipients.
type Publisher interface {
	BroadcastAll(ctx context.Context, name model.EventName, payload any) int
	BroadcastTo(ctx context.Context, subjects []string, name model.EventName, payload any) int
}

type options struct {
	now         func() time.Time
	leavePolicy membership.LeavePolicy
	storyTTL    time.Duration
}

// Option configures a service.
type Option func(*options)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLeavePolicy sets what an admin leaving a group does.
func WithLeavePolicy(p membership.LeavePolicy) Option {
	return func(o *options) { o.leavePolicy = p }
}

// WithStoryTTL sets how long stories stay reachable.
func WithStoryTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.storyTTL = ttl
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:         time.Now,
		leavePolicy: membership.AnyAdminDeletes,
		storyTTL:    model.StoryTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// storeError translates a store failure into an apperr kind.
func storeError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("%s not found", what)
	case errors.Is(err, store.ErrConflict):
		return apperr.Conflict("%s already exists", what)
	default:
		return apperr.Internal(err, "failed to access %s", what)
	}
}

// loadConversation fetches a conversation or reports NotFound.
func loadConversation(ctx context.Context, st store.Store, id string) (*model.Conversation, error) {
	if id == "" {
		return nil, apperr.InvalidArgument("conversation id is required")
	}
	c, err := st.GetConversation(ctx, id)
	if err != nil {
		return nil, storeError(err, "conversation")
	}
	return c, nil
}

// requireParticipant loads a conversation the caller participates in.
func requireParticipant(ctx context.Context, st store.Store, callerID, id string) (*model.Conversation, error) {
	c, err := loadConversation(ctx, st, id)
	if err != nil {
		return nil, err
	}
	if !membership.IsParticipant(c, callerID) {
		return nil, apperr.Forbidden("you are not a participant of this conversation")
	}
	return c, nil
}

// usersByID resolves profiles, skipping unknown ids.
func usersByID(ctx context.Context, st store.Store, ids []string) (map[string]*model.User, error) {
	users, err := st.GetUsers(ctx, membership.Dedupe(ids))
	if err != nil {
		return nil, apperr.Internal(err, "failed to load users")
	}
	out := make(map[string]*model.User, len(users))
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}
