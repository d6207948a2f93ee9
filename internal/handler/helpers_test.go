package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/talkora/chat-platform/internal/assets"
	"github.com/talkora/chat-platform/internal/middleware"
	"github.com/talkora/chat-platform/internal/presence"
	"github.com/talkora/chat-platform/internal/realtime"
	"github.com/talkora/chat-platform/internal/service"
	"github.com/talkora/chat-platform/internal/store/memory"
	"github.com/talkora/chat-platform/pkg/logger"
)

const testSecret = "handler-test-secret"

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testAPI struct {
	router      http.Handler
	store       *memory.Store
	broadcaster *realtime.Broadcaster
}

func newTestAPI(t *testing.T, deps map[string]Pinger) *testAPI {
	t.Helper()
	log := logger.NewNop()
	st := memory.New()
	b := realtime.NewBroadcaster(presence.New(), log)
	up := assets.PassThrough{}

	if deps == nil {
		deps = map[string]Pinger{"store": st}
	}

	router := NewRouter(RouterConfig{
		Conversations:     service.NewConversationService(st, b, up, log),
		Messages:          service.NewMessageService(st, b, up, log),
		Stories:           service.NewStoryService(st, up, log),
		Users:             service.NewUserService(st, up, log),
		Broadcaster:       b,
		Dependencies:      deps,
		JWTSecret:         testSecret,
		AllowedOrigins:    []string{"*"},
		RateLimitRequests: 10000,
		RateLimitWindow:   time.Minute,
		SendBuffer:        16,
		Logger:            log,
	})
	return &testAPI{router: router, store: st, broadcaster: b}
}

func token(t *testing.T, subject string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: subject + "@example.com",
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// do sends an authenticated request as user; an empty user sends none.
func (a *testAPI) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// profile registers a user through the API.
func (a *testAPI) profile(t *testing.T, id string) {
	t.Helper()
	rec := a.do(t, id, http.MethodPut, "/api/v1/users/me", map[string]string{
		"fullname": "User " + id,
		"username": id + "_name",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

var errDown = errors.New("down")
