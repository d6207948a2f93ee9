// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/talkora/chat-platform/internal/middleware"
	"github.com/talkora/chat-platform/internal/model"
	"github.com/talkora/chat-platform/internal/service"
	"github.com/talkora/chat-platform/pkg/logger"
)

// ConversationHandler handles conversation and group endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// StartDirect handles POST /api/v1/conversations/direct
func (h *ConversationHandler) StartDirect(w http.ResponseWriter, r *http.Request) {
	var req model.StartDirectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.StartOrGetDirect(r.Context(), middleware.GetUserID(r.Context()), req.PeerID, req.Text)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	convs, err := h.service.ListForUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
	})
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Leave handles POST /api/v1/conversations/:id/leave
func (h *ConversationHandler) Leave(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	resp, err := h.service.LeaveOrDelete(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateGroup handles POST /api/v1/groups
func (h *ConversationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req model.CreateGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateGroupName(req.GroupName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.CreateGroup(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// AddMembers handles POST /api/v1/groups/:id/members
func (h *ConversationHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	h.changeMembers(w, r, h.service.AddMembers)
}

// RemoveMembers handles DELETE /api/v1/groups/:id/members
func (h *ConversationHandler) RemoveMembers(w http.ResponseWriter, r *http.Request) {
	h.changeMembers(w, r, h.service.RemoveMembers)
}

type membersFunc func(ctx context.Context, callerID, conversationID string, ids []string) ([]string, error)

func (h *ConversationHandler) changeMembers(w http.ResponseWriter, r *http.Request, apply membersFunc) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	var req model.MembersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateUserIDs(req.UserIDs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	participants, err := apply(r.Context(), middleware.GetUserID(r.Context()), id, req.UserIDs)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"participants": participants,
	})
}

// Members handles GET /api/v1/groups/:id/members
func (h *ConversationHandler) Members(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	members, err := h.service.Members(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"members": members,
	})
}

// UpdateGroup handles PUT /api/v1/groups/:id
func (h *ConversationHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	var req model.UpdateGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GroupName != nil {
		if err := middleware.ValidateGroupName(*req.GroupName); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	conv, err := h.service.UpdateGroupDetails(r.Context(), middleware.GetUserID(r.Context()), id, &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// entityID reads and validates the {id} path parameter.
func entityID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateEntityID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}
