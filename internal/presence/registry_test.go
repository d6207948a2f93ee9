package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkora/chat-platform/internal/realtime"
)

func TestRegisterUnregister(t *testing.T) {
	r := New()
	h := realtime.NewBufferedConn("h1", 1)

	r.Register("alice", h)
	assert.Equal(t, []string{"alice"}, r.ListOnline())

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "h1", got.ID())

	r.Unregister("alice")
	assert.NotContains(t, r.ListOnline(), "alice")
	_, ok = r.Lookup("alice")
	assert.False(t, ok)

	// absent subject
	r.Unregister("alice")
	assert.Equal(t, 0, r.Len())
}

func TestDistinctRegistrationsCount(t *testing.T) {
	r := New()
	for i := 0; i < 5; i++ {
		r.Register(fmt.Sprintf("user-%d", i), realtime.NewBufferedConn(fmt.Sprintf("h%d", i), 1))
	}
	assert.Len(t, r.ListOnline(), 5)
	assert.Len(t, r.Conns(), 5)
}

func TestLastConnectionWins(t *testing.T) {
	r := New()
	first := realtime.NewBufferedConn("first", 1)
	second := realtime.NewBufferedConn("second", 1)

	assert.Nil(t, r.Register("alice", first))
	prev := r.Register("alice", second)
	require.NotNil(t, prev)
	assert.Equal(t, "first", prev.ID())
	assert.Equal(t, 1, r.Len())

	got, _ := r.Lookup("alice")
	assert.Equal(t, "second", got.ID())

	assert.False(t, r.Release("alice", first), "stale handle must not evict the newer one")
	assert.Equal(t, []string{"alice"}, r.ListOnline())

	assert.True(t, r.Release("alice", second))
	assert.Empty(t, r.ListOnline())
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%d", i)
			h := realtime.NewBufferedConn(id, 1)
			r.Register(id, h)
			r.ListOnline()
			if i%2 == 0 {
				r.Release(id, h)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 25, r.Len())
}
