package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkora/chat-platform/internal/apperr"
	"github.com/talkora/chat-platform/internal/model"
)

func TestSendBroadcastsToParticipants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUsers(t, "A", "B")
	id := f.direct(t, "A", "B")

	f.clock.Advance(time.Minute)
	msg, err := f.messages.Send(ctx, "B", id, &model.SendMessageRequest{Content: " hi back "})
	require.NoError(t, err)
	assert.Equal(t, "hi back", msg.Content)

	conv, err := f.store.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, conv.LastMessageID)
	assert.Equal(t, f.clock.Now(), conv.UpdatedAt)

	events := f.pub.named(model.EventNewMessage)
	require.Len(t, events, 1)
	assert.ElementsMatch(t, []string{"A", "B"}, events[0].To)
	payload := events[0].Payload.(*model.NewMessageEvent)
	assert.Equal(t, msg.ID, payload.Message.ID)
	require.NotNil(t, payload.Sender)
	assert.Equal(t, "B", payload.Sender.ID)
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.direct(t, "A", "B")

	_, err := f.messages.Send(ctx, "A", "missing", &model.SendMessageRequest{Content: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.messages.Send(ctx, "C", id, &model.SendMessageRequest{Content: "x"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.messages.Send(ctx, "A", id, &model.SendMessageRequest{Content: "  "})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestSendUploadsMedia(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.direct(t, "A", "B")

	msg, err := f.messages.Send(ctx, "A", id, &model.SendMessageRequest{Media: "data:image/png;base64,AAAA"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/message-media/"+id, msg.Media)

	f.uploader.err = errors.New("asset service down")
	_, err = f.messages.Send(ctx, "A", id, &model.SendMessageRequest{Media: "data:image/png;base64,BBBB"})
	assert.ErrorIs(t, err, apperr.ErrInternal)
}

func TestListKeepsInsertionOrderUnderClockSkew(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.direct(t, "A", "B")

	for _, step := range []time.Duration{time.Minute, -10 * time.Minute, 3 * time.Minute} {
		f.clock.Advance(step)
		_, err := f.messages.Send(ctx, "A", id, &model.SendMessageRequest{Content: step.String()})
		require.NoError(t, err)
	}

	msgs, err := f.messages.List(ctx, "B", id)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "1m0s", msgs[1].Content)
	assert.Equal(t, "-10m0s", msgs[2].Content)
	assert.Equal(t, "3m0s", msgs[3].Content)

	_, err = f.messages.List(ctx, "C", id)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestDeleteRequiresSender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.direct(t, "A", "B")

	first, err := f.messages.Send(ctx, "A", id, &model.SendMessageRequest{Content: "one"})
	require.NoError(t, err)
	second, err := f.messages.Send(ctx, "A", id, &model.SendMessageRequest{Content: "two"})
	require.NoError(t, err)
	before := len(f.pub.events)

	err = f.messages.Delete(ctx, "B", second.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.store.GetMessage(ctx, second.ID)
	require.NoError(t, err, "message must survive a rejected delete")

	require.NoError(t, f.messages.Delete(ctx, "A", second.ID))
	_, err = f.store.GetMessage(ctx, second.ID)
	assert.Error(t, err)
	assert.Len(t, f.pub.events, before, "deletion is not broadcast")

	conv, err := f.store.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first.ID, conv.LastMessageID)

	assert.ErrorIs(t, f.messages.Delete(ctx, "A", second.ID), apperr.ErrNotFound)
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.direct(t, "A", "B")
	_, err := f.messages.Send(ctx, "B", id, &model.SendMessageRequest{Content: "from B"})
	require.NoError(t, err)

	n, err := f.messages.MarkRead(ctx, "B", id)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only A's message is unread for B")

	n, err = f.messages.MarkRead(ctx, "B", id)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	msgs, err := f.messages.List(ctx, "A", id)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, msgs[0].ReadBy)
	assert.Empty(t, msgs[1].ReadBy)
}
