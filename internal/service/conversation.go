package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/talkora/chat-platform/internal/apperr"
	"github.com/talkora/chat-platform/internal/assets"
	"github.com/talkora/chat-platform/internal/membership"
	"github.com/talkora/chat-platform/internal/model"
	"github.com/talkora/chat-platform/internal/store"
	"github.com/talkora/chat-platform/pkg/logger"
	"github.com/talkora/chat-platform/pkg/metrics"
	"github.com/talkora/chat-platform/pkg/tracing"
)

var errMismatchedPair = errors.New("direct conversation participants do not match")

// ConversationService handles conversation lifecycle and group membership.
type ConversationService struct {
	store     store.Store
	publisher Publisher
	uploader  assets.Uploader
	logger    *logger.Logger
	opts      options
}

// NewConversationService creates a new conversation service.
func NewConversationService(st store.Store, pub Publisher, up assets.Uploader, log *logger.Logger, opts ...Option) *ConversationService {
	return &ConversationService{
		store:     st,
		publisher: pub,
		uploader:  up,
		logger:    log,
		opts:      buildOptions(opts),
	}
}

// StartOrGetDirect returns the direct conversation between initiator and
// peer, creating it together with its first message when absent. An existing
// conversation is returned unchanged and text is not sent.
func (s *ConversationService) StartOrGetDirect(ctx context.Context, initiatorID, peerID, text string) (resp *model.StartDirectResponse, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "ConversationService.StartOrGetDirect",
		attribute.String("user.id", initiatorID),
		attribute.String("peer.id", peerID),
	)
	defer func() { tracing.End(span, err) }()

	if err := membership.CanCreateDirect(initiatorID, peerID); err != nil {
		return nil, err
	}

	existing, err := s.findDirect(ctx, initiatorID, peerID)
	if err == nil {
		return &model.StartDirectResponse{Conversation: existing}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, storeError(err, "conversation")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.InvalidArgument("message text is required")
	}

	now := s.opts.now()
	conv := model.NewDirectConversation(newID(), initiatorID, peerID, now)
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return nil, storeError(err, "conversation")
		}
		// lost the race against a concurrent start for the same pair
		existing, err := s.findDirect(ctx, initiatorID, peerID)
		if err != nil {
			return nil, storeError(err, "conversation")
		}
		return &model.StartDirectResponse{Conversation: existing}, nil
	}

	msg := &model.Message{
		ID:             newID(),
		ConversationID: conv.ID,
		SenderID:       initiatorID,
		Content:        text,
		ReadBy:         []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		// do not leave a conversation without its first message
		if derr := s.store.DeleteConversation(ctx, conv.ID); derr != nil {
			s.logger.Error("failed to roll back conversation",
				zap.String("conversation_id", conv.ID),
				zap.Error(derr),
			)
		}
		return nil, storeError(err, "message")
	}
	if err := s.store.TouchConversation(ctx, conv.ID, msg.ID, now); err != nil {
		return nil, storeError(err, "conversation")
	}
	conv.LastMessageID = msg.ID

	metrics.ConversationsTotal.WithLabelValues(string(model.KindDirect)).Inc()
	metrics.MessagesTotal.WithLabelValues(string(model.KindDirect)).Inc()
	s.logger.Info("direct conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", initiatorID),
		zap.String("peer_id", peerID),
	)

	s.announceConversation(ctx, conv, msg, initiatorID, peerID)

	return &model.StartDirectResponse{Conversation: conv, Message: msg, Created: true}, nil
}

// findDirect looks up the direct conversation of a and b and rejects any
// stored conversation that is not exactly theirs.
func (s *ConversationService) findDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	conv, err := s.store.FindDirectConversation(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if conv.IsGroup() || !conv.HasParticipant(a) || !conv.HasParticipant(b) {
		s.logger.Error("direct conversation index points at another conversation",
			zap.String("conversation_id", conv.ID),
			zap.String("user_id", a),
			zap.String("peer_id", b),
		)
		return nil, fmt.Errorf("conversation %s does not belong to the pair: %w", conv.ID, errMismatchedPair)
	}
	return conv, nil
}

// announceConversation pushes newConversation to both participants, but only
// when both resolve to known users.
func (s *ConversationService) announceConversation(ctx context.Context, conv *model.Conversation, msg *model.Message, senderID, receiverID string) {
	users, err := usersByID(ctx, s.store, []string{senderID, receiverID})
	if err != nil {
		s.logger.Warn("skipping newConversation event", zap.Error(err))
		return
	}
	sender, okSender := users[senderID]
	receiver, okReceiver := users[receiverID]
	if !okSender || !okReceiver {
		s.logger.Debug("skipping newConversation event for unknown user",
			zap.String("conversation_id", conv.ID),
		)
		return
	}

	s.publisher.BroadcastTo(ctx, []string{receiverID, senderID}, model.EventNewConversation, &model.NewConversationEvent{
		Message:      msg,
		UpdatedAt:    msg.CreatedAt,
		Participants: conv.Participants,
		Sender:       sender.Summary(msg.Content),
		Receiver:     receiver.Summary(msg.Content),
	})
}

// CreateGroup creates a group administered by the initiator.
func (s *ConversationService) CreateGroup(ctx context.Context, initiatorID string, req *model.CreateGroupRequest) (conv *model.Conversation, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "ConversationService.CreateGroup",
		attribute.String("user.id", initiatorID),
	)
	defer func() { tracing.End(span, err) }()

	name := strings.TrimSpace(req.GroupName)
	if name == "" {
		return nil, apperr.InvalidArgument("group name is required")
	}

	participants := []string{initiatorID}
	for _, id := range req.Participants {
		if id = strings.TrimSpace(id); id != "" {
			participants = append(participants, id)
		}
	}

	conv = model.NewGroupConversation(newID(), initiatorID, name, membership.Dedupe(participants), s.opts.now())
	if err := membership.CheckAdminInvariant(conv); err != nil {
		return nil, apperr.Internal(err, "invalid group")
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, storeError(err, "group")
	}

	metrics.ConversationsTotal.WithLabelValues(string(model.KindGroup)).Inc()
	s.logger.Info("group created",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", initiatorID),
		zap.Int("participants", len(conv.Participants)),
	)
	return conv, nil
}

// AddMembers adds users to a group and returns the new participant list.
func (s *ConversationService) AddMembers(ctx context.Context, callerID, conversationID string, ids []string) (participants []string, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "ConversationService.AddMembers",
		attribute.String("conversation.id", conversationID),
	)
	defer func() { tracing.End(span, err) }()

	conv, err := loadConversation(ctx, s.store, conversationID)
	if err != nil {
		return nil, err
	}
	if err := membership.CanMutateGroup(conv, callerID); err != nil {
		return nil, err
	}
	next, err := membership.ApplyAddMembers(conv, ids)
	if err != nil {
		return nil, err
	}

	conv.Participants = next
	if err := s.saveGroup(ctx, conv); err != nil {
		return nil, err
	}
	s.logger.Info("group members added",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", callerID),
		zap.Strings("added", ids),
	)
	return conv.Participants, nil
}

// RemoveMembers removes non-admin users from a group.
func (s *ConversationService) RemoveMembers(ctx context.Context, callerID, conversationID string, ids []string) (participants []string, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "ConversationService.RemoveMembers",
		attribute.String("conversation.id", conversationID),
	)
	defer func() { tracing.End(span, err) }()

	conv, err := loadConversation(ctx, s.store, conversationID)
	if err != nil {
		return nil, err
	}
	if err := membership.CanMutateGroup(conv, callerID); err != nil {
		return nil, err
	}
	next, err := membership.ApplyRemoveMembers(conv, ids)
	if err != nil {
		return nil, err
	}

	conv.Participants = next
	if err := s.saveGroup(ctx, conv); err != nil {
		return nil, err
	}
	s.logger.Info("group members removed",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", callerID),
		zap.Strings("removed", ids),
	)
	return conv.Participants, nil
}

// Members lists a group's participants with their admin flag. Participants
// without a profile are listed by id only.
func (s *ConversationService) Members(ctx context.Context, callerID, conversationID string) ([]model.Member, error) {
	conv, err := requireParticipant(ctx, s.store, callerID, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup() {
		return nil, apperr.InvalidArgument("conversation is not a group")
	}

	users, err := usersByID(ctx, s.store, conv.Participants)
	if err != nil {
		return nil, err
	}
	out := make([]model.Member, 0, len(conv.Participants))
	for _, id := range conv.Participants {
		m := model.Member{User: model.User{ID: id}, IsAdmin: membership.IsAdmin(conv, id)}
		if u, ok := users[id]; ok {
			m.User = *u
		}
		out = append(out, m)
	}
	return out, nil
}

// UpdateGroupDetails changes a group's name, avatar or description. Raw
// avatars are uploaded first; hosted URLs are stored verbatim.
func (s *ConversationService) UpdateGroupDetails(ctx context.Context, callerID, conversationID string, req *model.UpdateGroupRequest) (conv *model.Conversation, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "ConversationService.UpdateGroupDetails",
		attribute.String("conversation.id", conversationID),
	)
	defer func() { tracing.End(span, err) }()

	conv, err = loadConversation(ctx, s.store, conversationID)
	if err != nil {
		return nil, err
	}
	if err := membership.CanMutateGroup(conv, callerID); err != nil {
		return nil, err
	}

	if req.GroupName != nil {
		name := strings.TrimSpace(*req.GroupName)
		if name == "" {
			return nil, apperr.InvalidArgument("group name cannot be empty")
		}
		conv.Group.Name = name
	}
	if req.Description != nil {
		conv.Group.Description = strings.TrimSpace(*req.Description)
	}
	if req.Avatar != nil && *req.Avatar != "" {
		url, err := s.uploader.Upload(ctx, *req.Avatar, conv.ID, assets.KindGroupAvatar)
		if err != nil {
			return nil, apperr.Internal(err, "failed to upload group avatar")
		}
		conv.Group.Avatar = url
	}

	if err := s.saveGroup(ctx, conv); err != nil {
		return nil, err
	}
	s.logger.Info("group details updated",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", callerID),
	)
	return conv, nil
}

// LeaveOrDelete removes the caller from a conversation. A group is deleted
// outright when an admin leaves, subject to the configured leave policy.
// Leaving a direct conversation keeps it for the remaining participant.
func (s *ConversationService) LeaveOrDelete(ctx context.Context, callerID, conversationID string) (resp *model.LeaveResponse, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "ConversationService.LeaveOrDelete",
		attribute.String("conversation.id", conversationID),
	)
	defer func() { tracing.End(span, err) }()

	conv, err := loadConversation(ctx, s.store, conversationID)
	if err != nil {
		return nil, err
	}
	outcome, err := membership.ApplyLeave(conv, callerID, s.opts.leavePolicy)
	if err != nil {
		return nil, err
	}

	if outcome.Delete {
		if err := s.store.DeleteConversation(ctx, conv.ID); err != nil {
			return nil, storeError(err, "conversation")
		}
		s.logger.Info("group deleted by admin",
			zap.String("conversation_id", conv.ID),
			zap.String("user_id", callerID),
		)
		return &model.LeaveResponse{Deleted: true}, nil
	}

	conv.Participants = outcome.Participants
	conv.UpdatedAt = s.opts.now()
	if conv.IsGroup() {
		conv.Group.Admins = outcome.Admins
	} else {
		// the pair may start a fresh conversation later
		conv.PairKey = ""
	}
	if err := s.store.SaveConversation(ctx, conv); err != nil {
		return nil, storeError(err, "conversation")
	}
	s.logger.Info("conversation left",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", callerID),
	)
	return &model.LeaveResponse{}, nil
}

// ListForUser returns the caller's conversations, most recently updated first.
func (s *ConversationService) ListForUser(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	convs, err := s.store.FindConversationsByParticipant(ctx, userID)
	if err != nil {
		return nil, storeError(err, "conversations")
	}

	var peerIDs []string
	for _, c := range convs {
		for _, p := range c.Participants {
			if p != userID {
				peerIDs = append(peerIDs, p)
			}
		}
	}
	users, err := usersByID(ctx, s.store, peerIDs)
	if err != nil {
		return nil, err
	}

	out := make([]model.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		summary := model.ConversationSummary{Conversation: c}
		if c.LastMessageID != "" {
			last, err := s.store.GetMessage(ctx, c.LastMessageID)
			switch {
			case err == nil:
				summary.LastMessage = last
			case !errors.Is(err, store.ErrNotFound):
				return nil, storeError(err, "message")
			}
		}
		for _, p := range c.Participants {
			if u, ok := users[p]; ok && p != userID {
				summary.Peers = append(summary.Peers, *u)
			}
		}
		out = append(out, summary)
	}
	return out, nil
}

// Get returns a conversation with its full message history.
func (s *ConversationService) Get(ctx context.Context, callerID, conversationID string) (*model.ConversationDetail, error) {
	conv, err := requireParticipant(ctx, s.store, callerID, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.FindMessages(ctx, conv.ID)
	if err != nil {
		return nil, storeError(err, "messages")
	}

	senders := make([]string, 0, len(msgs))
	for _, m := range msgs {
		senders = append(senders, m.SenderID)
	}
	users, err := usersByID(ctx, s.store, senders)
	if err != nil {
		return nil, err
	}

	detail := &model.ConversationDetail{
		Conversation: conv,
		Messages:     make([]model.MessageWithSender, 0, len(msgs)),
	}
	for _, m := range msgs {
		detail.Messages = append(detail.Messages, model.MessageWithSender{Message: m, Sender: users[m.SenderID]})
	}
	return detail, nil
}

func (s *ConversationService) saveGroup(ctx context.Context, conv *model.Conversation) error {
	if err := membership.CheckAdminInvariant(conv); err != nil {
		return apperr.Internal(err, "group admin invariant violated")
	}
	conv.UpdatedAt = s.opts.now()
	if err := s.store.SaveConversation(ctx, conv); err != nil {
		return storeError(err, "group")
	}
	return nil
}
