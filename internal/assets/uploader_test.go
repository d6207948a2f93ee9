package assets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkora/chat-platform/pkg/logger"
)

func TestMediaType(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"data:image/png;base64,AAAA", "image"},
		{"data:video/mp4;base64,AAAA", "video"},
		{"data:VIDEO/webm,xyz", "video"},
		{"https://cdn.example.com/a.png", ""},
		{"data:nonsense", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MediaType(tt.raw), tt.raw)
	}
}

func TestHTTPUploader(t *testing.T) {
	var got uploadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/assets", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(uploadResponse{URL: "https://cdn.example.com/x.png"})
	}))
	defer srv.Close()

	u := NewHTTPUploader(srv.URL+"/", "secret", logger.NewNop())
	url, err := u.Upload(context.Background(), "data:image/png;base64,AAAA", "alice_w", KindStoryImage)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/x.png", url)
	assert.Equal(t, "alice_w", got.OwnerKey)
	assert.Equal(t, KindStoryImage, got.Kind)
}

func TestHTTPUploaderPassesHostedURLs(t *testing.T) {
	u := NewHTTPUploader("http://127.0.0.1:1", "", logger.NewNop())
	url, err := u.Upload(context.Background(), "https://cdn.example.com/a.png", "g1", KindGroupAvatar)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.png", url)
}

func TestHTTPUploaderServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPUploader(srv.URL, "", logger.NewNop()).Upload(context.Background(), "data:image/png,AA", "a", KindProfile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestPassThrough(t *testing.T) {
	url, err := PassThrough{}.Upload(context.Background(), "https://x/y.png", "", KindProfile)
	require.NoError(t, err)
	assert.Equal(t, "https://x/y.png", url)

	_, err = PassThrough{}.Upload(context.Background(), "data:image/png,AA", "", KindProfile)
	assert.Error(t, err)
}
