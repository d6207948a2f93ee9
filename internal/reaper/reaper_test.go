package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkora/chat-platform/internal/model"
	"github.com/talkora/chat-platform/internal/store"
	"github.com/talkora/chat-platform/internal/store/memory"
	"github.com/talkora/chat-platform/pkg/logger"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewValidatesCron(t *testing.T) {
	_, err := New(memory.New(), "not a cron", logger.NewNop())
	assert.Error(t, err)

	r, err := New(memory.New(), "", logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, DefaultCron, r.cron)
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	require.NoError(t, st.CreateConversation(ctx, model.NewDirectConversation("keep", "a", "b", base)))
	empty := model.NewGroupConversation("empty", "a", "g", []string{"a"}, base)
	require.NoError(t, st.CreateConversation(ctx, empty))
	empty.Participants = []string{}
	empty.Group.Admins = []string{}
	require.NoError(t, st.SaveConversation(ctx, empty))

	require.NoError(t, st.CreateStory(ctx, &model.Story{ID: "old", UserID: "a", CreatedAt: base, ExpiresAt: base.Add(model.StoryTTL)}))
	require.NoError(t, st.CreateStory(ctx, &model.Story{ID: "new", UserID: "a", CreatedAt: base.Add(20 * time.Hour), ExpiresAt: base.Add(44 * time.Hour)}))

	r, err := New(st, "", logger.NewNop(), WithClock(func() time.Time { return base.Add(25 * time.Hour) }))
	require.NoError(t, err)
	require.NoError(t, r.RunOnce(ctx))

	_, err = st.GetConversation(ctx, "empty")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetConversation(ctx, "keep")
	assert.NoError(t, err)

	left, err := st.FindStories(ctx, store.StoryQuery{ActiveAt: base})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].ID)
}

type failingStore struct {
	store.Store
	purged bool
}

func (s *failingStore) DeleteEmptyConversations(context.Context) (int, error) {
	return 0, errors.New("disk full")
}

func (s *failingStore) PurgeExpiredStories(context.Context, time.Time) (int, error) {
	s.purged = true
	return 0, nil
}

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	st := &failingStore{Store: memory.New()}
	r, err := New(st, "", logger.NewNop())
	require.NoError(t, err)

	err = r.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, st.purged, "a failed task must not skip the next one")
}

func TestStartStops(t *testing.T) {
	r, err := New(memory.New(), "0 0 1 1 *", logger.NewNop())
	require.NoError(t, err)

	stop := r.Start(context.Background())
	finished := make(chan struct{})
	go func() {
		stop()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop")
	}
}
