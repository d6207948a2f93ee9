package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/talkora/chat-platform/internal/model"
	"github.com/talkora/chat-platform/pkg/logger"
	"github.com/talkora/chat-platform/pkg/metrics"
)

const relayTimeout = 5 * time.Second

// Registry is the presence view the broadcaster delivers through.
type Registry interface {
	// Register stores c for subject and returns the handle it replaced, if any.
	Register(subject string, c Conn) Conn
	Release(subject string, c Conn) bool
	Lookup(subject string) (Conn, bool)
	ListOnline() []string
	Conns() []Conn
}

// Envelope is an event as mirrored to a Relay.
type Envelope struct {
	Event      model.Event `json:"event"`
	Recipients []string    `json:"recipients,omitempty"`
	EmittedAt  time.Time   `json:"emitted_at"`
}

// Relay mirrors pushed events to an external bus.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
}

// Broadcaster delivers events to connected subjects. Delivery is best-effort:
// offline subjects and full send buffers drop the event.
type Broadcaster struct {
	registry Registry
	relay    Relay
	logger   *logger.Logger
	now      func() time.Time
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithRelay mirrors every event to r.
func WithRelay(r Relay) BroadcasterOption {
	return func(b *Broadcaster) { b.relay = r }
}

// NewBroadcaster creates a broadcaster over registry.
func NewBroadcaster(registry Registry, log *logger.Logger, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		registry: registry,
		logger:   log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BroadcastAll delivers to every registered handle and returns how many
// accepted the event.
func (b *Broadcaster) BroadcastAll(ctx context.Context, name model.EventName, payload any) int {
	ev := model.Event{Name: name, Payload: payload}
	delivered := 0
	for _, c := range b.registry.Conns() {
		if b.deliver(c, ev) {
			delivered++
		}
	}
	b.mirror(Envelope{Event: ev})
	return delivered
}

// BroadcastTo delivers to the listed subjects that are currently online.
func (b *Broadcaster) BroadcastTo(ctx context.Context, subjects []string, name model.EventName, payload any) int {
	ev := model.Event{Name: name, Payload: payload}
	seen := make(map[string]struct{}, len(subjects))
	delivered := 0
	for _, id := range subjects {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		c, ok := b.registry.Lookup(id)
		if !ok {
			metrics.EventsDropped.WithLabelValues(string(name), "offline").Inc()
			continue
		}
		if b.deliver(c, ev) {
			delivered++
		}
	}
	b.mirror(Envelope{Event: ev, Recipients: subjects})
	return delivered
}

// Connect registers c for subject and announces the new presence snapshot.
// A handle replaced by c is closed, ending its transport.
func (b *Broadcaster) Connect(ctx context.Context, subject string, c Conn) {
	if prev := b.registry.Register(subject, c); prev != nil && prev.ID() != c.ID() {
		prev.Close()
		b.logger.Debug("replaced connection closed",
			zap.String("user_id", subject),
			zap.String("conn_id", prev.ID()),
		)
	}
	b.logger.Debug("subject connected",
		zap.String("user_id", subject),
		zap.String("conn_id", c.ID()),
	)
	b.BroadcastAll(ctx, model.EventOnlineUsers, b.registry.ListOnline())
}

// Disconnect releases c and announces the new presence snapshot. A handle
// that was already replaced leaves presence untouched.
func (b *Broadcaster) Disconnect(ctx context.Context, subject string, c Conn) {
	c.Close()
	if !b.registry.Release(subject, c) {
		return
	}
	b.logger.Debug("subject disconnected",
		zap.String("user_id", subject),
		zap.String("conn_id", c.ID()),
	)
	b.BroadcastAll(ctx, model.EventOnlineUsers, b.registry.ListOnline())
}

// CloseAll closes every registered handle so long-lived transports return.
// Presence entries are released as each transport disconnects.
func (b *Broadcaster) CloseAll() {
	for _, c := range b.registry.Conns() {
		c.Close()
	}
}

// Online returns the current presence snapshot.
func (b *Broadcaster) Online() []string {
	return b.registry.ListOnline()
}

func (b *Broadcaster) deliver(c Conn, ev model.Event) bool {
	if err := c.Send(ev); err != nil {
		metrics.EventsDropped.WithLabelValues(string(ev.Name), "send").Inc()
		b.logger.Debug("event dropped",
			zap.String("event", string(ev.Name)),
			zap.String("conn_id", c.ID()),
			zap.Error(err),
		)
		return false
	}
	metrics.EventsDelivered.WithLabelValues(string(ev.Name)).Inc()
	return true
}

func (b *Broadcaster) mirror(env Envelope) {
	if b.relay == nil {
		return
	}
	env.EmittedAt = b.now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
		defer cancel()
		if err := b.relay.Publish(ctx, env); err != nil {
			metrics.RelayPublished.WithLabelValues(string(env.Event.Name), "error").Inc()
			b.logger.Warn("failed to relay event",
				zap.String("event", string(env.Event.Name)),
				zap.Error(err),
			)
			return
		}
		metrics.RelayPublished.WithLabelValues(string(env.Event.Name), "ok").Inc()
	}()
}
