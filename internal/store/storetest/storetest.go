// Package storetest is a conformance suite every store.Store implementation runs.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkora/chat-platform/internal/model"
	"github.com/talkora/chat-platform/internal/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("direct conversation is unique per pair", func(t *testing.T) {
		testDirectUniqueness(t, newStore(t))
	})
	t.Run("conversation lifecycle", func(t *testing.T) {
		testConversationLifecycle(t, newStore(t))
	})
	t.Run("leaving a direct conversation frees the pair", func(t *testing.T) {
		testPairRelease(t, newStore(t))
	})
	t.Run("messages keep insertion order", func(t *testing.T) {
		testMessageOrdering(t, newStore(t))
	})
	t.Run("message update and delete", func(t *testing.T) {
		testMessageMutation(t, newStore(t))
	})
	t.Run("delete conversation cascades", func(t *testing.T) {
		testDeleteCascade(t, newStore(t))
	})
	t.Run("empty conversations are reaped", func(t *testing.T) {
		testDeleteEmpty(t, newStore(t))
	})
	t.Run("stories expire", func(t *testing.T) {
		testStories(t, newStore(t))
	})
	t.Run("users", func(t *testing.T) {
		testUsers(t, newStore(t))
	})
}

func testDirectUniqueness(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.FindDirectConversation(ctx, "alice", "bob")
	require.ErrorIs(t, err, store.ErrNotFound)

	c := model.NewDirectConversation("c1", "alice", "bob", base)
	require.NoError(t, s.CreateConversation(ctx, c))

	got, err := s.FindDirectConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, model.KindDirect, got.Kind)
	assert.ElementsMatch(t, []string{"alice", "bob"}, got.Participants)
	assert.Nil(t, got.Group)

	dup := model.NewDirectConversation("c2", "bob", "alice", base)
	assert.ErrorIs(t, s.CreateConversation(ctx, dup), store.ErrConflict)

	_, err = s.GetConversation(ctx, "c2")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// a group with the same two members is not a direct conversation
	g := model.NewGroupConversation("g1", "alice", "pair group", []string{"alice", "bob"}, base)
	require.NoError(t, s.CreateConversation(ctx, g))
	got, err = s.FindDirectConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)
}

func testConversationLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()

	g := model.NewGroupConversation("g1", "alice", "team", []string{"alice", "bob"}, base)
	require.NoError(t, s.CreateConversation(ctx, g))

	// mutating the caller's copy must not leak into the store
	g.Participants = append(g.Participants, "mallory")

	got, err := s.GetConversation(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, got.Participants)
	require.NotNil(t, got.Group)
	assert.Equal(t, "team", got.Group.Name)
	assert.Equal(t, []string{"alice"}, got.Group.Admins)

	got.Participants = append(got.Participants, "carol")
	got.Group.Description = "the team"
	got.UpdatedAt = base.Add(time.Hour)
	require.NoError(t, s.SaveConversation(ctx, got))

	again, err := s.GetConversation(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, again.Participants)
	assert.Equal(t, "the team", again.Group.Description)

	d := model.NewDirectConversation("d1", "carol", "dave", base.Add(2*time.Hour))
	require.NoError(t, s.CreateConversation(ctx, d))

	list, err := s.FindConversationsByParticipant(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "d1", list[0].ID, "most recently updated first")
	assert.Equal(t, "g1", list[1].ID)

	// touching keeps membership and moves the conversation to the front
	require.NoError(t, s.TouchConversation(ctx, "g1", "m9", base.Add(3*time.Hour)))
	touched, err := s.GetConversation(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "m9", touched.LastMessageID)
	assert.Equal(t, []string{"alice", "bob", "carol"}, touched.Participants)
	list, err = s.FindConversationsByParticipant(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, "g1", list[0].ID)
	assert.ErrorIs(t, s.TouchConversation(ctx, "nope", "", base), store.ErrNotFound)

	missing := model.NewDirectConversation("nope", "x", "y", base)
	assert.ErrorIs(t, s.SaveConversation(ctx, missing), store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteConversation(ctx, "nope"), store.ErrNotFound)
}

func testPairRelease(t *testing.T, s store.Store) {
	ctx := context.Background()

	c := model.NewDirectConversation("c1", "alice", "bob", base)
	require.NoError(t, s.CreateConversation(ctx, c))

	c.Participants = []string{"bob"}
	c.PairKey = ""
	require.NoError(t, s.SaveConversation(ctx, c))

	_, err := s.FindDirectConversation(ctx, "alice", "bob")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.CreateConversation(ctx, model.NewDirectConversation("c2", "alice", "bob", base)))
	got, err := s.FindDirectConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "c2", got.ID)
}

func testMessageOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, model.NewDirectConversation("c1", "alice", "bob", base)))

	_, err := s.FindLastMessage(ctx, "c1")
	require.ErrorIs(t, err, store.ErrNotFound)

	// wall clock runs backwards across inserts; insertion order must win
	skews := []time.Duration{5 * time.Minute, 0, -10 * time.Minute, time.Minute}
	var prevSeq uint64
	for i, skew := range skews {
		m := &model.Message{
			ID:             fmt.Sprintf("m%d", i),
			ConversationID: "c1",
			SenderID:       "alice",
			Content:        fmt.Sprintf("msg %d", i),
			CreatedAt:      base.Add(skew),
			UpdatedAt:      base.Add(skew),
		}
		require.NoError(t, s.CreateMessage(ctx, m))
		assert.Greater(t, m.Sequence, prevSeq)
		prevSeq = m.Sequence
	}

	msgs, err := s.FindMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, len(skews))
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("m%d", i), m.ID)
	}

	last, err := s.FindLastMessage(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "m3", last.ID)

	other, err := s.FindMessages(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testMessageMutation(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, model.NewDirectConversation("c1", "alice", "bob", base)))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateMessage(ctx, &model.Message{
			ID:             fmt.Sprintf("m%d", i),
			ConversationID: "c1",
			SenderID:       "alice",
			Content:        "hi",
			CreatedAt:      base,
			UpdatedAt:      base,
		}))
	}

	m, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	seq := m.Sequence
	m.ReadBy = append(m.ReadBy, "bob")
	m.Sequence = 0
	require.NoError(t, s.SaveMessage(ctx, m))

	m, err = s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, m.ReadBy)
	assert.Equal(t, seq, m.Sequence, "save must not move a message")

	require.NoError(t, s.DeleteMessage(ctx, "m2"))
	_, err = s.GetMessage(ctx, "m2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteMessage(ctx, "m2"), store.ErrNotFound)

	last, err := s.FindLastMessage(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "m1", last.ID)

	orphan := &model.Message{ID: "x", ConversationID: "missing", SenderID: "alice", Content: "hi"}
	assert.ErrorIs(t, s.CreateMessage(ctx, orphan), store.ErrNotFound)
}

func testDeleteCascade(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, model.NewDirectConversation("c1", "alice", "bob", base)))
	require.NoError(t, s.CreateMessage(ctx, &model.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "hi", CreatedAt: base}))

	require.NoError(t, s.DeleteConversation(ctx, "c1"))

	_, err := s.GetConversation(ctx, "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetMessage(ctx, "m1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.FindDirectConversation(ctx, "alice", "bob")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDeleteEmpty(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, model.NewDirectConversation("c1", "alice", "bob", base)))
	require.NoError(t, s.CreateConversation(ctx, model.NewDirectConversation("c2", "carol", "dave", base)))

	c, err := s.GetConversation(ctx, "c2")
	require.NoError(t, err)
	c.Participants = []string{}
	c.PairKey = ""
	require.NoError(t, s.SaveConversation(ctx, c))

	n, err := s.DeleteEmptyConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetConversation(ctx, "c2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetConversation(ctx, "c1")
	assert.NoError(t, err)
}

func newStory(id, userID, username string, createdAt time.Time) *model.Story {
	return &model.Story{
		ID:        id,
		UserID:    userID,
		Username:  username,
		Type:      model.StoryText,
		Content:   map[string]any{"text": "hello " + id},
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(model.StoryTTL),
	}
}

func testStories(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.CreateStory(ctx, newStory("s1", "alice", "alice_w", base)))
	require.NoError(t, s.CreateStory(ctx, newStory("s2", "alice", "alice_w", base.Add(time.Hour))))
	require.NoError(t, s.CreateStory(ctx, newStory("s3", "bob", "bobby", base.Add(2*time.Hour))))

	now := base.Add(3 * time.Hour)
	got, err := s.FindStories(ctx, store.StoryQuery{Username: "alice_w", ActiveAt: now})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].ID)
	assert.Equal(t, "s2", got[1].ID)
	assert.Equal(t, "hello s1", got[0].Content["text"])

	got, err = s.FindStories(ctx, store.StoryQuery{UserIDs: []string{"bob", "zed"}, ActiveAt: now})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s3", got[0].ID)

	st := got[0]
	st.Views = append(st.Views, model.StoryView{UserID: "alice", ViewedAt: now})
	require.NoError(t, s.SaveStory(ctx, st))
	got, err = s.FindStories(ctx, store.StoryQuery{ID: "s3", ActiveAt: now})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Views, 1)

	// 25 hours after the first story, only s3 is still within its 24h window
	later := base.Add(25 * time.Hour)
	got, err = s.FindStories(ctx, store.StoryQuery{ActiveAt: later})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s3", got[0].ID)

	got, err = s.FindStories(ctx, store.StoryQuery{ID: "s1", ActiveAt: later})
	require.NoError(t, err)
	assert.Empty(t, got)

	n, err := s.PurgeExpiredStories(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetUser(ctx, "alice")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.SaveUser(ctx, &model.User{ID: "alice", Fullname: "Alice W", Username: "alice_w"}))
	require.NoError(t, s.SaveUser(ctx, &model.User{ID: "bob", Fullname: "Bob B", Username: "bobby"}))
	require.NoError(t, s.SaveUser(ctx, &model.User{ID: "alice", Fullname: "Alice Wonder", Username: "alice_w"}))

	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice Wonder", u.Fullname)

	err = s.SaveUser(ctx, &model.User{ID: "mallory", Fullname: "Mallory", Username: "alice_w"})
	assert.ErrorIs(t, err, store.ErrConflict)
	_, err = s.GetUser(ctx, "mallory")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// a renamed user releases the old username
	require.NoError(t, s.SaveUser(ctx, &model.User{ID: "bob", Fullname: "Bob B", Username: "bob_b"}))
	require.NoError(t, s.SaveUser(ctx, &model.User{ID: "carol", Fullname: "Carol C", Username: "bobby"}))
	err = s.SaveUser(ctx, &model.User{ID: "carol", Fullname: "Carol C", Username: "bob_b"})
	assert.ErrorIs(t, err, store.ErrConflict)

	users, err := s.GetUsers(ctx, []string{"bob", "ghost", "alice"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "bob", users[0].ID)
	assert.Equal(t, "alice", users[1].ID)
}
