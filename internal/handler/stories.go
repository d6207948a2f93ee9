package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/talkora/chat-platform/internal/middleware"
	"github.com/talkora/chat-platform/internal/model"
	"github.com/talkora/chat-platform/internal/service"
	"github.com/talkora/chat-platform/pkg/logger"
)

// StoryHandler handles story endpoints.
type StoryHandler struct {
	service *service.StoryService
	logger  *logger.Logger
}

// NewStoryHandler creates a new story handler.
func NewStoryHandler(svc *service.StoryService, log *logger.Logger) *StoryHandler {
	return &StoryHandler{service: svc, logger: log}
}

// Add handles POST /api/v1/stories
func (h *StoryHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req model.AddStoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Text + req.Caption); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	story, err := h.service.Add(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, story)
}

// Connected handles GET /api/v1/stories/connected
func (h *StoryHandler) Connected(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListConnected(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
	})
}

// ByAuthor handles GET /api/v1/stories/by/:username
func (h *StoryHandler) ByAuthor(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := middleware.ValidateUsername(username); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	detail, err := h.service.GetByAuthor(r.Context(), middleware.GetUserID(r.Context()), username)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Get handles GET /api/v1/stories/:id
func (h *StoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetByID(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Like handles POST /api/v1/stories/:id/likes
func (h *StoryHandler) Like(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	story, err := h.service.Like(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, story)
}

// Comment handles POST /api/v1/stories/:id/comments
func (h *StoryHandler) Comment(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	var req model.CommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	story, err := h.service.Comment(r.Context(), middleware.GetUserID(r.Context()), id, req.Text)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, story)
}
