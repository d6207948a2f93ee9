package pebblestore

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkora/chat-platform/internal/model"
	"github.com/talkora/chat-platform/internal/store"
	"github.com/talkora/chat-platform/internal/store/storetest"
	"github.com/talkora/chat-platform/pkg/logger"
)

var storetestBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openMem(t *testing.T, fs vfs.FS) *Store {
	t.Helper()
	s, err := Open("chat", logger.NewNop(), WithFS(fs))
	require.NoError(t, err)
	return s
}

func TestPebbleStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s := openMem(t, vfs.NewMem())
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSequenceSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMem()

	s := openMem(t, fs)
	require.NoError(t, s.CreateConversation(ctx, model.NewDirectConversation("c1", "alice", "bob", storetestBase)))
	first := &model.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "one"}
	require.NoError(t, s.CreateMessage(ctx, first))
	require.NoError(t, s.Close())

	s = openMem(t, fs)
	defer s.Close()

	c, err := s.FindDirectConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.PairKey("alice", "bob"), c.PairKey)

	second := &model.Message{ID: "m2", ConversationID: "c1", SenderID: "bob", Content: "two"}
	require.NoError(t, s.CreateMessage(ctx, second))
	assert.Greater(t, second.Sequence, first.Sequence)

	msgs, err := s.FindMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("msg:c2"), prefixEnd([]byte("msg:c1")))
	assert.Equal(t, []byte{0x01}, prefixEnd([]byte{0x00, 0xff}))
	assert.Nil(t, prefixEnd([]byte{0xff, 0xff}))
}
