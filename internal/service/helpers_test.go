package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/talkora/chat-platform/internal/assets"
	"github.com/talkora/chat-platform/internal/model"
	"github.com/talkora/chat-platform/internal/store/memory"
	"github.com/talkora/chat-platform/pkg/logger"
)

type published struct {
	To      []string
	All     bool
	Name    model.EventName
	Payload any
}

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) BroadcastAll(_ context.Context, name model.EventName, payload any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{All: true, Name: name, Payload: payload})
	return 0
}

func (r *recorder) BroadcastTo(_ context.Context, subjects []string, name model.EventName, payload any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{To: append([]string(nil), subjects...), Name: name, Payload: payload})
	return len(subjects)
}

func (r *recorder) named(name model.EventName) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type fakeUploader struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (u *fakeUploader) Upload(_ context.Context, raw, ownerKey string, kind assets.Kind) (string, error) {
	if assets.IsHosted(raw) {
		return raw, nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.calls = append(u.calls, string(kind))
	return fmt.Sprintf("https://cdn.test/%s/%s", kind, ownerKey), nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store    *memory.Store
	pub      *recorder
	uploader *fakeUploader
	clock    *testClock

	conversations *ConversationService
	messages      *MessageService
	stories       *StoryService
	users         *UserService
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		pub:      &recorder{},
		uploader: &fakeUploader{},
		clock:    &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	log := logger.NewNop()
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)

	f.conversations = NewConversationService(f.store, f.pub, f.uploader, log, opts...)
	f.messages = NewMessageService(f.store, f.pub, f.uploader, log, opts...)
	f.stories = NewStoryService(f.store, f.uploader, log, opts...)
	f.users = NewUserService(f.store, f.uploader, log)
	return f
}

func (f *fixture) addUsers(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, f.store.SaveUser(context.Background(), &model.User{
			ID:       id,
			Fullname: "User " + id,
			Username: id + "_name",
		}))
	}
}

// direct starts a direct conversation and returns its id.
func (f *fixture) direct(t *testing.T, a, b string) string {
	t.Helper()
	resp, err := f.conversations.StartOrGetDirect(context.Background(), a, b, "hello")
	require.NoError(t, err)
	return resp.Conversation.ID
}
