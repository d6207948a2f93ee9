package realtime_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkora/chat-platform/internal/model"
	"github.com/talkora/chat-platform/internal/presence"
	"github.com/talkora/chat-platform/internal/realtime"
	"github.com/talkora/chat-platform/pkg/logger"
)

type chanRelay struct {
	envs chan realtime.Envelope
	err  error
}

func (r *chanRelay) Publish(_ context.Context, env realtime.Envelope) error {
	r.envs <- env
	return r.err
}

func drain(c *realtime.BufferedConn) []model.Event {
	var out []model.Event
	for {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func names(evs []model.Event) []model.EventName {
	out := make([]model.EventName, len(evs))
	for i, ev := range evs {
		out[i] = ev.Name
	}
	return out
}

func TestBroadcastToSkipsOffline(t *testing.T) {
	ctx := context.Background()
	reg := presence.New()
	b := realtime.NewBroadcaster(reg, logger.NewNop())

	alice := realtime.NewBufferedConn("a1", 8)
	reg.Register("alice", alice)

	n := b.BroadcastTo(ctx, []string{"alice", "bob", "alice"}, model.EventNewMessage, "hi")
	assert.Equal(t, 1, n)

	evs := drain(alice)
	require.Len(t, evs, 1)
	assert.Equal(t, model.EventNewMessage, evs[0].Name)
	assert.Equal(t, "hi", evs[0].Payload)
}

func TestBroadcastAll(t *testing.T) {
	ctx := context.Background()
	reg := presence.New()
	b := realtime.NewBroadcaster(reg, logger.NewNop())

	conns := map[string]*realtime.BufferedConn{
		"alice": realtime.NewBufferedConn("a1", 8),
		"bob":   realtime.NewBufferedConn("b1", 8),
	}
	for id, c := range conns {
		reg.Register(id, c)
	}

	assert.Equal(t, 2, b.BroadcastAll(ctx, model.EventChatMessage, "ping"))
	for _, c := range conns {
		assert.Equal(t, []model.EventName{model.EventChatMessage}, names(drain(c)))
	}
}

func TestConnectAnnouncesPresence(t *testing.T) {
	ctx := context.Background()
	reg := presence.New()
	b := realtime.NewBroadcaster(reg, logger.NewNop())

	alice := realtime.NewBufferedConn("a1", 8)
	bob := realtime.NewBufferedConn("b1", 8)

	b.Connect(ctx, "alice", alice)
	b.Connect(ctx, "bob", bob)

	evs := drain(alice)
	require.Len(t, evs, 2)
	assert.Equal(t, model.EventOnlineUsers, evs[1].Name)
	assert.Equal(t, []string{"alice", "bob"}, evs[1].Payload)

	b.Disconnect(ctx, "bob", bob)
	evs = drain(alice)
	require.Len(t, evs, 1)
	assert.Equal(t, []string{"alice"}, evs[0].Payload)

	select {
	case <-bob.Done():
	default:
		t.Fatal("disconnect must close the handle")
	}
}

func TestStaleDisconnectKeepsNewerHandle(t *testing.T) {
	ctx := context.Background()
	reg := presence.New()
	b := realtime.NewBroadcaster(reg, logger.NewNop())

	old := realtime.NewBufferedConn("old", 8)
	fresh := realtime.NewBufferedConn("fresh", 8)
	b.Connect(ctx, "alice", old)
	b.Connect(ctx, "alice", fresh)
	drain(fresh)

	b.Disconnect(ctx, "alice", old)
	assert.Equal(t, []string{"alice"}, b.Online())
	assert.Empty(t, drain(fresh), "no presence change, no announcement")

	assert.Equal(t, 1, b.BroadcastTo(ctx, []string{"alice"}, model.EventNewMessage, nil))
	assert.Len(t, drain(fresh), 1)
}

func TestReconnectClosesReplacedHandle(t *testing.T) {
	ctx := context.Background()
	b := realtime.NewBroadcaster(presence.New(), logger.NewNop())

	old := realtime.NewBufferedConn("old", 8)
	fresh := realtime.NewBufferedConn("fresh", 8)
	b.Connect(ctx, "alice", old)
	b.Connect(ctx, "alice", fresh)

	select {
	case <-old.Done():
	default:
		t.Fatal("replaced handle must be closed")
	}
	select {
	case <-fresh.Done():
		t.Fatal("current handle must stay open")
	default:
	}

	// registering the same handle again keeps it open
	b.Connect(ctx, "alice", fresh)
	select {
	case <-fresh.Done():
		t.Fatal("re-registered handle must stay open")
	default:
	}
}

func TestCloseAll(t *testing.T) {
	ctx := context.Background()
	b := realtime.NewBroadcaster(presence.New(), logger.NewNop())

	alice := realtime.NewBufferedConn("a", 8)
	bob := realtime.NewBufferedConn("b", 8)
	b.Connect(ctx, "alice", alice)
	b.Connect(ctx, "bob", bob)

	b.CloseAll()
	for _, c := range []*realtime.BufferedConn{alice, bob} {
		select {
		case <-c.Done():
		default:
			t.Fatalf("handle %s must be closed", c.ID())
		}
	}
}

func TestFullBufferDropsEvent(t *testing.T) {
	ctx := context.Background()
	reg := presence.New()
	b := realtime.NewBroadcaster(reg, logger.NewNop())

	slow := realtime.NewBufferedConn("s1", 1)
	reg.Register("slow", slow)

	assert.Equal(t, 1, b.BroadcastTo(ctx, []string{"slow"}, model.EventNewMessage, 1))
	assert.Equal(t, 0, b.BroadcastTo(ctx, []string{"slow"}, model.EventNewMessage, 2))
	evs := drain(slow)
	require.Len(t, evs, 1)
	assert.Equal(t, 1, evs[0].Payload)
}

func TestSendAfterClose(t *testing.T) {
	c := realtime.NewBufferedConn("c", 1)
	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Send(model.Event{Name: model.EventHeartbeat}), realtime.ErrClosed)
}

func TestRelayMirrorsEvents(t *testing.T) {
	ctx := context.Background()
	relay := &chanRelay{envs: make(chan realtime.Envelope, 1), err: errors.New("bus down")}
	b := realtime.NewBroadcaster(presence.New(), logger.NewNop(), realtime.WithRelay(relay))

	// delivery result is independent of the relay outcome
	assert.Equal(t, 0, b.BroadcastTo(ctx, []string{"bob"}, model.EventNewMessage, "x"))

	select {
	case env := <-relay.envs:
		assert.Equal(t, model.EventNewMessage, env.Event.Name)
		assert.Equal(t, []string{"bob"}, env.Recipients)
		assert.False(t, env.EmittedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("relay not called")
	}
}
