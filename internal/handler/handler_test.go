package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkora/chat-platform/internal/apperr"
	"github.com/talkora/chat-platform/internal/model"
)

func TestStatusFor(t *testing.T) {
	tests := map[apperr.Kind]int{
		apperr.KindInvalidArgument: http.StatusBadRequest,
		apperr.KindUnauthenticated: http.StatusUnauthorized,
		apperr.KindForbidden:       http.StatusForbidden,
		apperr.KindNotFound:        http.StatusNotFound,
		apperr.KindConflict:        http.StatusConflict,
		apperr.KindInternal:        http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusFor(kind), kind)
	}
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t, nil)
	assert.Equal(t, http.StatusOK, api.do(t, "", http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, api.do(t, "", http.MethodGet, "/ready", nil).Code)

	down := newTestAPI(t, map[string]Pinger{
		"nats": pingFunc(func(context.Context) error { return errDown }),
	})
	rec := down.do(t, "", http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "nats unavailable", decode[map[string]string](t, rec)["reason"])
}

func TestAPIRequiresToken(t *testing.T) {
	api := newTestAPI(t, nil)
	rec := api.do(t, "", http.MethodGet, "/api/v1/conversations", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartDirectConversation(t *testing.T) {
	api := newTestAPI(t, nil)
	api.profile(t, "A")
	api.profile(t, "B")

	rec := api.do(t, "A", http.MethodPost, "/api/v1/conversations/direct", model.StartDirectRequest{PeerID: "B", Text: "hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[model.StartDirectResponse](t, rec)
	assert.True(t, first.Created)
	require.NotNil(t, first.Message)
	assert.Equal(t, "hello", first.Message.Content)

	rec = api.do(t, "A", http.MethodPost, "/api/v1/conversations/direct", model.StartDirectRequest{PeerID: "B", Text: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[model.StartDirectResponse](t, rec)
	assert.False(t, second.Created)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)

	rec = api.do(t, "B", http.MethodGet, "/api/v1/conversations/"+first.Conversation.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[model.ConversationDetail](t, rec)
	require.Len(t, detail.Messages, 1)

	rec = api.do(t, "C", http.MethodGet, "/api/v1/conversations/"+first.Conversation.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, "A", http.MethodPost, "/api/v1/conversations/direct", model.StartDirectRequest{PeerID: "A", Text: "me"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationPathValidation(t *testing.T) {
	api := newTestAPI(t, nil)
	assert.Equal(t, http.StatusBadRequest, api.do(t, "A", http.MethodGet, "/api/v1/conversations/not-an-id", nil).Code)
	assert.Equal(t, http.StatusNotFound,
		api.do(t, "A", http.MethodGet, "/api/v1/conversations/0190a6f0-7b1c-7c1e-9a2b-3c4d5e6f7a8b", nil).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, "A", http.MethodPost, "/api/v1/groups", "not an object").Code)
}

func TestGroupLifecycle(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, "A", http.MethodPost, "/api/v1/groups", model.CreateGroupRequest{GroupName: "team", Participants: []string{"B"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	group := decode[model.Conversation](t, rec)
	base := "/api/v1/groups/" + group.ID

	rec = api.do(t, "B", http.MethodPost, base+"/members", model.MembersRequest{UserIDs: []string{"C"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, "A", http.MethodPost, base+"/members", model.MembersRequest{UserIDs: []string{"C"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, decode[map[string][]string](t, rec)["participants"])

	rec = api.do(t, "A", http.MethodDelete, base+"/members", model.MembersRequest{UserIDs: []string{"A"}})
	assert.Equal(t, http.StatusForbidden, rec.Code, "admins cannot be removed")

	rec = api.do(t, "A", http.MethodDelete, base+"/members", model.MembersRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	name := "renamed"
	rec = api.do(t, "A", http.MethodPut, base, model.UpdateGroupRequest{GroupName: &name})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "renamed", decode[model.Conversation](t, rec).Group.Name)

	rec = api.do(t, "C", http.MethodGet, base+"/members", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, "B", http.MethodPost, "/api/v1/conversations/"+group.ID+"/leave", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[model.LeaveResponse](t, rec).Deleted)

	rec = api.do(t, "A", http.MethodPost, "/api/v1/conversations/"+group.ID+"/leave", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[model.LeaveResponse](t, rec).Deleted)
}

func TestMessages(t *testing.T) {
	api := newTestAPI(t, nil)
	rec := api.do(t, "A", http.MethodPost, "/api/v1/conversations/direct", model.StartDirectRequest{PeerID: "B", Text: "hello"})
	require.Equal(t, http.StatusCreated, rec.Code)
	convID := decode[model.StartDirectResponse](t, rec).Conversation.ID
	msgsPath := "/api/v1/conversations/" + convID + "/messages"

	rec = api.do(t, "B", http.MethodPost, msgsPath, model.SendMessageRequest{Content: "yo"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sent := decode[model.SendMessageResponse](t, rec).Message

	rec = api.do(t, "C", http.MethodPost, msgsPath, model.SendMessageRequest{Content: "intruder"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, "A", http.MethodGet, msgsPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[model.ListMessagesResponse](t, rec).Messages
	require.Len(t, list, 2)
	assert.Equal(t, "hello", list[0].Content)
	assert.Equal(t, "yo", list[1].Content)

	rec = api.do(t, "A", http.MethodPost, "/api/v1/conversations/"+convID+"/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[map[string]int](t, rec)["marked"])

	assert.Equal(t, http.StatusForbidden, api.do(t, "A", http.MethodDelete, "/api/v1/messages/"+sent.ID, nil).Code)
	assert.Equal(t, http.StatusNoContent, api.do(t, "B", http.MethodDelete, "/api/v1/messages/"+sent.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, "B", http.MethodDelete, "/api/v1/messages/"+sent.ID, nil).Code)
}

func TestStories(t *testing.T) {
	api := newTestAPI(t, nil)
	api.profile(t, "A")
	api.profile(t, "B")
	api.profile(t, "C")
	rec := api.do(t, "A", http.MethodPost, "/api/v1/conversations/direct", model.StartDirectRequest{PeerID: "B", Text: "hello"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, "A", http.MethodPost, "/api/v1/stories", model.AddStoryRequest{Text: "my day"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	story := decode[model.Story](t, rec)
	assert.Equal(t, model.StoryText, story.Type)

	rec = api.do(t, "B", http.MethodGet, "/api/v1/stories/connected", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode[map[string][]model.User](t, rec)["users"]
	require.Len(t, users, 1)
	assert.Equal(t, "A", users[0].ID)

	rec = api.do(t, "B", http.MethodGet, "/api/v1/stories/by/A_name", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, story.ID, decode[model.StoryDetail](t, rec).Story.ID)

	assert.Equal(t, http.StatusForbidden, api.do(t, "C", http.MethodGet, "/api/v1/stories/"+story.ID, nil).Code)
	assert.Equal(t, http.StatusOK, api.do(t, "B", http.MethodPost, "/api/v1/stories/"+story.ID+"/likes", nil).Code)

	rec = api.do(t, "B", http.MethodPost, "/api/v1/stories/"+story.ID+"/comments", model.CommentRequest{Text: "nice"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, decode[model.Story](t, rec).Comments, 1)
}

func TestProfile(t *testing.T) {
	api := newTestAPI(t, nil)
	assert.Equal(t, http.StatusNotFound, api.do(t, "A", http.MethodGet, "/api/v1/users/me", nil).Code)

	rec := api.do(t, "A", http.MethodPut, "/api/v1/users/me", map[string]string{"fullname": "Alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	api.profile(t, "A")
	rec = api.do(t, "A", http.MethodGet, "/api/v1/users/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A_name", decode[model.User](t, rec).Username)

	rec = api.do(t, "B", http.MethodPut, "/api/v1/users/me", map[string]string{
		"fullname": "Bob",
		"username": "A_name",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}
