package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/talkora/chat-platform/internal/realtime"
)

const (
	// StreamName is the name of the chat events stream.
	StreamName = "CHAT_EVENTS"

	// SubjectPrefix is the prefix for all event subjects.
	SubjectPrefix = "chat.events"
)

// Relay publishes realtime envelopes to JetStream.
type Relay struct {
	client *Client
	maxAge time.Duration
}

var _ realtime.Relay = (*Relay)(nil)

// NewRelay creates a relay that retains events for maxAge.
func NewRelay(client *Client, maxAge time.Duration) *Relay {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Relay{client: client, maxAge: maxAge}
}

// EnsureStream ensures the events stream exists with proper configuration.
func (r *Relay) EnsureStream(ctx context.Context) error {
	js := r.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      r.maxAge,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Realtime events pushed to connected clients",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for an event name. Tokens may not
// contain spaces or dots.
func EventSubject(name string) string {
	token := strings.NewReplacer(" ", "_", ".", "_", "*", "_", ">", "_").Replace(name)
	return fmt.Sprintf("%s.%s", SubjectPrefix, token)
}

// Publish publishes env to its event subject.
func (r *Relay) Publish(ctx context.Context, env realtime.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := nats.NewMsg(EventSubject(string(env.Event.Name)))
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	msg.Header.Set("Chat-Event", string(env.Event.Name))

	if _, err := r.client.JetStream().PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
