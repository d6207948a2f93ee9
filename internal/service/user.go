package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/talkora/chat-platform/internal/apperr"
	"github.com/talkora/chat-platform/internal/assets"
	"github.com/talkora/chat-platform/internal/model"
	"github.com/talkora/chat-platform/internal/store"
	"github.com/talkora/chat-platform/pkg/logger"
)

// UserService maintains the profiles used in events, member lists and stories.
type UserService struct {
	store    store.Store
	uploader assets.Uploader
	logger   *logger.Logger
}

// NewUserService creates a new user service.
func NewUserService(st store.Store, up assets.Uploader, log *logger.Logger) *UserService {
	return &UserService{store: st, uploader: up, logger: log}
}

// UpdateProfile creates or replaces the caller's profile. Usernames are
// unique and an empty avatar keeps the current one.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, req *model.UpdateProfileRequest) (*model.User, error) {
	fullname := strings.TrimSpace(req.Fullname)
	username := strings.TrimSpace(req.Username)
	if fullname == "" || username == "" {
		return nil, apperr.InvalidArgument("fullname and username are required")
	}

	user := &model.User{ID: userID}
	current, err := s.store.GetUser(ctx, userID)
	switch {
	case err == nil:
		user = current
	case !errors.Is(err, store.ErrNotFound):
		return nil, storeError(err, "user")
	}
	user.Fullname = fullname
	user.Username = username

	if req.Avatar != "" {
		url, err := s.uploader.Upload(ctx, req.Avatar, username, assets.KindProfile)
		if err != nil {
			return nil, apperr.Internal(err, "failed to upload avatar")
		}
		user.Avatar = url
	}

	if err := s.store.SaveUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Conflict("username %s is already taken", username)
		}
		return nil, storeError(err, "user")
	}
	s.logger.Info("profile updated", zap.String("user_id", userID))
	return user, nil
}

// Get returns a profile.
func (s *UserService) Get(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeError(err, "user")
	}
	return u, nil
}
