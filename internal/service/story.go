package service

import (
	"context"
	"errors"
	"path"
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

// StoryService handles 24-hour stories. A story is visible to its author and
// to users sharing a direct conversation with the author.
type StoryService struct {
	store    store.Store
	uploader assets.Uploader
	logger   *logger.Logger
	opts     options
}

// NewStoryService creates a new story service.
func NewStoryService(st store.Store, up assets.Uploader, log *logger.Logger, opts ...Option) *StoryService {
	return &StoryService{
		store:    st,
		uploader: up,
		logger:   log,
		opts:     buildOptions(opts),
	}
}

var videoExtensions = map[string]bool{".mp4": true, ".mov": true, ".webm": true, ".m4v": true}

// storyType derives the story type from its media. Hosted URLs are typed by
// file extension.
func storyType(media string) (model.StoryType, error) {
	if media == "" {
		return model.StoryText, nil
	}
	if assets.IsHosted(media) {
		if videoExtensions[strings.ToLower(path.Ext(strings.SplitN(media, "?", 2)[0]))] {
			return model.StoryVideo, nil
		}
		return model.StoryImage, nil
	}
	t := model.StoryType(assets.MediaType(media))
	if t != model.StoryImage && t != model.StoryVideo {
		return "", apperr.InvalidArgument("unsupported story media")
	}
	return t, nil
}

// Add posts a story for userID.
func (s *StoryService) Add(ctx context.Context, userID string, req *model.AddStoryRequest) (story *model.Story, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "StoryService.Add", attribute.String("user.id", userID))
	defer func() { tracing.End(span, err) }()

	if req.Media == "" && strings.TrimSpace(req.Text) == "" {
		return nil, apperr.InvalidArgument("story media or text is required")
	}
	typ, err := storyType(req.Media)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeError(err, "user")
	}

	content := map[string]any{}
	if req.Media != "" {
		kind := assets.KindStoryImage
		if typ == model.StoryVideo {
			kind = assets.KindStoryVideo
		}
		url, err := s.uploader.Upload(ctx, req.Media, user.Username, kind)
		if err != nil {
			return nil, apperr.Internal(err, "failed to upload story media")
		}
		content["media"] = url
	}
	if text := strings.TrimSpace(req.Text); text != "" {
		content["text"] = text
	}
	if caption := strings.TrimSpace(req.Caption); caption != "" {
		content["caption"] = caption
	}

	now := s.opts.now()
	story = &model.Story{
		ID:        newID(),
		UserID:    user.ID,
		Username:  user.Username,
		Type:      typ,
		Content:   content,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.storyTTL),
		Views:     []model.StoryView{},
		Likes:     []model.StoryLike{},
		Comments:  []model.StoryComment{},
	}
	if err := s.store.CreateStory(ctx, story); err != nil {
		return nil, storeError(err, "story")
	}

	metrics.StoriesTotal.WithLabelValues(string(typ)).Inc()
	s.logger.Info("story added",
		zap.String("story_id", story.ID),
		zap.String("user_id", user.ID),
		zap.String("story_type", string(typ)),
	)
	return story, nil
}

// ListConnected returns the direct-conversation peers of userID that have an
// active story.
func (s *StoryService) ListConnected(ctx context.Context, userID string) ([]model.User, error) {
	convs, err := s.store.FindConversationsByParticipant(ctx, userID)
	if err != nil {
		return nil, storeError(err, "conversations")
	}

	var peers []string
	for _, c := range convs {
		if c.IsGroup() {
			continue
		}
		for _, p := range c.Participants {
			if p != userID {
				peers = append(peers, p)
			}
		}
	}
	if len(peers) == 0 {
		return []model.User{}, nil
	}

	stories, err := s.store.FindStories(ctx, store.StoryQuery{UserIDs: peers, ActiveAt: s.opts.now()})
	if err != nil {
		return nil, storeError(err, "stories")
	}
	authors := make(map[string]bool, len(stories))
	for _, st := range stories {
		authors[st.UserID] = true
	}

	var withStories []string
	for _, p := range peers {
		if authors[p] {
			withStories = append(withStories, p)
		}
	}
	users, err := s.store.GetUsers(ctx, membership.Dedupe(withStories))
	if err != nil {
		return nil, storeError(err, "users")
	}
	out := make([]model.User, 0, len(users))
	for _, u := range users {
		out = append(out, *u)
	}
	return out, nil
}

// GetByAuthor returns the oldest active story of username with the ids of
// the author's other active stories.
func (s *StoryService) GetByAuthor(ctx context.Context, callerID, username string) (*model.StoryDetail, error) {
	if username == "" {
		return nil, apperr.InvalidArgument("username is required")
	}
	stories, err := s.store.FindStories(ctx, store.StoryQuery{Username: username, ActiveAt: s.opts.now()})
	if err != nil {
		return nil, storeError(err, "stories")
	}
	if len(stories) == 0 {
		return nil, apperr.NotFound("stories not found")
	}
	first := stories[0]
	if err := s.canView(ctx, callerID, first.UserID); err != nil {
		return nil, err
	}
	return s.detail(ctx, first, stories)
}

// GetByID returns one active story and records the caller's view.
func (s *StoryService) GetByID(ctx context.Context, callerID, storyID string) (*model.StoryDetail, error) {
	story, err := s.visibleStory(ctx, callerID, storyID)
	if err != nil {
		return nil, err
	}

	now := s.opts.now()
	if story.UserID != callerID && !viewedBy(story, callerID) {
		story.Views = append(story.Views, model.StoryView{UserID: callerID, ViewedAt: now})
		if err := s.store.SaveStory(ctx, story); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, storeError(err, "story")
		}
	}

	siblings, err := s.store.FindStories(ctx, store.StoryQuery{UserID: story.UserID, ActiveAt: now})
	if err != nil {
		return nil, storeError(err, "stories")
	}
	return s.detail(ctx, story, siblings)
}

// Like records the caller's like once.
func (s *StoryService) Like(ctx context.Context, callerID, storyID string) (*model.Story, error) {
	story, err := s.visibleStory(ctx, callerID, storyID)
	if err != nil {
		return nil, err
	}
	for _, l := range story.Likes {
		if l.UserID == callerID {
			return story, nil
		}
	}
	story.Likes = append(story.Likes, model.StoryLike{UserID: callerID, LikedAt: s.opts.now()})
	if err := s.store.SaveStory(ctx, story); err != nil {
		return nil, storeError(err, "story")
	}
	return story, nil
}

// Comment appends a comment from the caller.
func (s *StoryService) Comment(ctx context.Context, callerID, storyID, text string) (*model.Story, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.InvalidArgument("comment text is required")
	}
	story, err := s.visibleStory(ctx, callerID, storyID)
	if err != nil {
		return nil, err
	}
	story.Comments = append(story.Comments, model.StoryComment{
		ID:        newID(),
		UserID:    callerID,
		Text:      text,
		Timestamp: s.opts.now(),
	})
	if err := s.store.SaveStory(ctx, story); err != nil {
		return nil, storeError(err, "story")
	}
	return story, nil
}

func (s *StoryService) visibleStory(ctx context.Context, callerID, storyID string) (*model.Story, error) {
	if storyID == "" {
		return nil, apperr.InvalidArgument("story id is required")
	}
	found, err := s.store.FindStories(ctx, store.StoryQuery{ID: storyID, ActiveAt: s.opts.now()})
	if err != nil {
		return nil, storeError(err, "story")
	}
	if len(found) == 0 {
		return nil, apperr.NotFound("story not found")
	}
	if err := s.canView(ctx, callerID, found[0].UserID); err != nil {
		return nil, err
	}
	return found[0], nil
}

// canView allows the author and anyone sharing a direct conversation with them.
func (s *StoryService) canView(ctx context.Context, viewerID, authorID string) error {
	if viewerID == authorID {
		return nil
	}
	conv, err := s.store.FindDirectConversation(ctx, viewerID, authorID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Forbidden("stories are visible to connections only")
	}
	if err != nil {
		return storeError(err, "conversation")
	}
	if !conv.HasParticipant(viewerID) || !conv.HasParticipant(authorID) {
		return apperr.Forbidden("stories are visible to connections only")
	}
	return nil
}

func (s *StoryService) detail(ctx context.Context, story *model.Story, siblings []*model.Story) (*model.StoryDetail, error) {
	author, err := s.store.GetUser(ctx, story.UserID)
	if err != nil {
		return nil, storeError(err, "user")
	}
	more := make([]string, 0, len(siblings))
	for _, st := range siblings {
		more = append(more, st.ID)
	}
	return &model.StoryDetail{Story: story, Author: *author, More: more}, nil
}

func viewedBy(st *model.Story, userID string) bool {
	for _, v := range st.Views {
		if v.UserID == userID {
			return true
		}
	}
	return false
}
