// Package assets turns raw client uploads into durable URLs through an
// external asset service.
package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/talkora/chat-platform/pkg/logger"
)

// Kind selects the folder and transformation applied by the asset service.
type Kind string

const (
	KindStoryImage   Kind = "story-image"
	KindStoryVideo   Kind = "story-video"
	KindGroupAvatar  Kind = "group-avatar"
	KindProfile      Kind = "profile"
	KindMessageMedia Kind = "message-media"
)

// Uploader stores a raw asset and returns its durable URL.
type Uploader interface {
	Upload(ctx context.Context, raw, ownerKey string, kind Kind) (string, error)
}

// IsHosted reports whether raw is already a durable URL.
func IsHosted(raw string) bool {
	return strings.HasPrefix(raw, "https://") || strings.HasPrefix(raw, "http://")
}

// MediaType returns the top-level mime type of a data URI, e.g. "image"
// for "data:image/png;base64,...". It returns "" for anything else.
func MediaType(raw string) string {
	if !strings.HasPrefix(raw, "data:") {
		return ""
	}
	header, _, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok {
		return ""
	}
	mime, _, _ := strings.Cut(header, ";")
	top, _, ok := strings.Cut(mime, "/")
	if !ok {
		return ""
	}
	return strings.ToLower(top)
}

// HTTPUploader posts assets to the asset service.
type HTTPUploader struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *logger.Logger
}

// NewHTTPUploader creates an uploader for the service at baseURL.
func NewHTTPUploader(baseURL, token string, log *logger.Logger) *HTTPUploader {
	return &HTTPUploader{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  log,
	}
}

type uploadRequest struct {
	Data     string `json:"data"`
	OwnerKey string `json:"owner_key"`
	Kind     Kind   `json:"kind"`
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload returns hosted URLs unchanged and uploads everything else.
func (u *HTTPUploader) Upload(ctx context.Context, raw, ownerKey string, kind Kind) (string, error) {
	if IsHosted(raw) {
		return raw, nil
	}

	body, err := json.Marshal(uploadRequest{Data: raw, OwnerKey: ownerKey, Kind: kind})
	if err != nil {
		return "", fmt.Errorf("failed to marshal upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/v1/assets", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	start := time.Now()
	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("asset upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("asset service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("asset service returned no url")
	}

	u.logger.Debug("asset uploaded",
		zap.String("kind", string(kind)),
		zap.String("owner", ownerKey),
		zap.Duration("duration", time.Since(start)),
	)
	return out.URL, nil
}

// PassThrough accepts only hosted URLs. It serves deployments without an
// asset service.
type PassThrough struct{}

func (PassThrough) Upload(_ context.Context, raw, _ string, _ Kind) (string, error) {
	if IsHosted(raw) {
		return raw, nil
	}
	return "", fmt.Errorf("no asset service configured for raw uploads")
}
