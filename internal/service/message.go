package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/talkora/chat-platform/internal/apperr"
	"github.com/talkora/chat-platform/internal/assets"
	"github.com/talkora/chat-platform/internal/model"
	"github.com/talkora/chat-platform/internal/store"
	"github.com/talkora/chat-platform/pkg/logger"
	"github.com/talkora/chat-platform/pkg/metrics"
	"github.com/talkora/chat-platform/pkg/tracing"
)

// MessageService handles message operations.
type MessageService struct {
	store     store.Store
	publisher Publisher
	uploader  assets.Uploader
	logger    *logger.Logger
	opts      options
}

// NewMessageService creates a new message service.
func NewMessageService(st store.Store, pub Publisher, up assets.Uploader, log *logger.Logger, opts ...Option) *MessageService {
	return &MessageService{
		store:     st,
		publisher: pub,
		uploader:  up,
		logger:    log,
		opts:      buildOptions(opts),
	}
}

// Send persists a message from a participant and pushes newMessage to every
// participant that is online. The write stands regardless of delivery.
func (s *MessageService) Send(ctx context.Context, senderID, conversationID string, req *model.SendMessageRequest) (msg *model.Message, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "MessageService.Send",
		attribute.String("conversation.id", conversationID),
		attribute.String("user.id", senderID),
	)
	defer func() { tracing.End(span, err) }()

	content := strings.TrimSpace(req.Content)
	if content == "" && req.Media == "" {
		return nil, apperr.InvalidArgument("message content or media is required")
	}

	conv, err := requireParticipant(ctx, s.store, senderID, conversationID)
	if err != nil {
		return nil, err
	}

	media := ""
	if req.Media != "" {
		media, err = s.uploader.Upload(ctx, req.Media, conv.ID, assets.KindMessageMedia)
		if err != nil {
			return nil, apperr.Internal(err, "failed to upload media")
		}
	}

	now := s.opts.now()
	msg = &model.Message{
		ID:             newID(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        content,
		Media:          media,
		ReadBy:         []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, storeError(err, "conversation")
	}
	if err := s.store.TouchConversation(ctx, conv.ID, msg.ID, now); err != nil {
		return nil, storeError(err, "conversation")
	}

	metrics.MessagesTotal.WithLabelValues(string(conv.Kind)).Inc()
	s.logger.Debug("message sent",
		zap.String("conversation_id", conv.ID),
		zap.String("message_id", msg.ID),
		zap.Uint64("sequence", msg.Sequence),
	)

	event := &model.NewMessageEvent{
		Message:      msg,
		UpdatedAt:    now,
		Participants: conv.Participants,
	}
	if sender, err := s.store.GetUser(ctx, senderID); err == nil {
		summary := sender.Summary(msg.Content)
		event.Sender = &summary
	}
	s.publisher.BroadcastTo(ctx, conv.Participants, model.EventNewMessage, event)

	return msg, nil
}

// List returns a conversation's full history in insertion order.
func (s *MessageService) List(ctx context.Context, callerID, conversationID string) ([]*model.Message, error) {
	conv, err := requireParticipant(ctx, s.store, callerID, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.FindMessages(ctx, conv.ID)
	if err != nil {
		return nil, storeError(err, "messages")
	}
	return msgs, nil
}

// Delete hard-deletes a message. Only its sender may delete it and no event
// is pushed.
func (s *MessageService) Delete(ctx context.Context, callerID, messageID string) (err error) {
	ctx, span := tracing.Start(ctx, tracerName, "MessageService.Delete",
		attribute.String("message.id", messageID),
	)
	defer func() { tracing.End(span, err) }()

	if messageID == "" {
		return apperr.InvalidArgument("message id is required")
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return storeError(err, "message")
	}
	if msg.SenderID != callerID {
		return apperr.Forbidden("only the sender can delete this message")
	}
	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return storeError(err, "message")
	}

	s.repointLastMessage(ctx, msg)
	s.logger.Info("message deleted",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("message_id", msg.ID),
		zap.String("user_id", callerID),
	)
	return nil
}

// repointLastMessage moves a conversation's last message reference off a
// deleted message. Failures are logged; the deletion already succeeded.
func (s *MessageService) repointLastMessage(ctx context.Context, deleted *model.Message) {
	conv, err := s.store.GetConversation(ctx, deleted.ConversationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to load conversation after delete", zap.Error(err))
		}
		return
	}
	if conv.LastMessageID != deleted.ID {
		return
	}

	lastID := ""
	last, err := s.store.FindLastMessage(ctx, conv.ID)
	switch {
	case err == nil:
		lastID = last.ID
	case !errors.Is(err, store.ErrNotFound):
		s.logger.Warn("failed to find last message", zap.String("conversation_id", conv.ID), zap.Error(err))
		return
	}
	if err := s.store.TouchConversation(ctx, conv.ID, lastID, conv.UpdatedAt); err != nil {
		s.logger.Warn("failed to repoint last message", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
}

// MarkRead adds the caller to the read-by set of every message they did not
// send and returns how many messages changed.
func (s *MessageService) MarkRead(ctx context.Context, callerID, conversationID string) (int, error) {
	conv, err := requireParticipant(ctx, s.store, callerID, conversationID)
	if err != nil {
		return 0, err
	}
	msgs, err := s.store.FindMessages(ctx, conv.ID)
	if err != nil {
		return 0, storeError(err, "messages")
	}

	n := 0
	for _, m := range msgs {
		if m.SenderID == callerID || contains(m.ReadBy, callerID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, callerID)
		if err := s.store.SaveMessage(ctx, m); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return n, storeError(err, "message")
		}
		n++
	}
	return n, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
