package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPairKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, PairKey("a", "b"), PairKey("b", "a"))
	assert.NotEqual(t, PairKey("a", "b"), PairKey("a", "c"))
}

func TestPairKeySeparatorInIDs(t *testing.T) {
	assert.NotEqual(t, PairKey("a:b", "c"), PairKey("a", "b:c"))
	assert.NotEqual(t, PairKey("a|b", "c"), PairKey("a", "b|c"))
	assert.NotEqual(t, PairKey("1:a", "b"), PairKey("1", "a|b"))
}

func TestConversationVariants(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	direct := NewDirectConversation("d", "b", "a", now)
	assert.False(t, direct.IsGroup())
	assert.Equal(t, PairKey("a", "b"), direct.PairKey)
	assert.True(t, direct.HasParticipant("a"))

	group := NewGroupConversation("g", "a", "team", []string{"a", "b"}, now)
	assert.True(t, group.IsGroup())
	assert.Empty(t, group.PairKey)
	assert.Equal(t, []string{"a"}, group.Group.Admins)

	cp := group.Clone()
	cp.Participants[0] = "z"
	cp.Group.Admins[0] = "z"
	assert.Equal(t, "a", group.Participants[0])
	assert.Equal(t, "a", group.Group.Admins[0])
}

func TestStoryExpiry(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Story{CreatedAt: created, ExpiresAt: created.Add(StoryTTL)}

	assert.False(t, s.ExpiredAt(created.Add(23*time.Hour)))
	assert.True(t, s.ExpiredAt(created.Add(StoryTTL)))
	assert.True(t, s.ExpiredAt(created.Add(25*time.Hour)))

	s.Views = []StoryView{{UserID: "a"}}
	cp := s.Clone()
	cp.Views[0].UserID = "b"
	assert.Equal(t, "a", s.Views[0].UserID)
}

func TestStoryTypeValid(t *testing.T) {
	assert.True(t, StoryImage.Valid())
	assert.True(t, StoryText.Valid())
	assert.False(t, StoryType("gif").Valid())
}
