package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talkora/chat-platform/internal/middleware"
	"github.com/talkora/chat-platform/internal/model"
	"github.com/talkora/chat-platform/internal/realtime"
	"github.com/talkora/chat-platform/pkg/logger"
	"github.com/talkora/chat-platform/pkg/metrics"
)

const defaultHeartbeat = 30 * time.Second

// StreamHandler serves the SSE event stream and presence snapshots.
type StreamHandler struct {
	broadcaster *realtime.Broadcaster
	logger      *logger.Logger
	sendBuffer  int
	heartbeat   time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(b *realtime.Broadcaster, sendBuffer int, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		broadcaster: b,
		logger:      log,
		sendBuffer:  sendBuffer,
		heartbeat:   defaultHeartbeat,
	}
}

// ConnectedEvent is the first event on a new stream.
type ConnectedEvent struct {
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

// Events handles GET /api/v1/events
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	metrics.IncrementConnections("sse")
	defer metrics.DecrementConnections("sse")

	conn := realtime.NewBufferedConn(uuid.NewString(), h.sendBuffer)
	// Presence teardown must outlive the request context.
	bg := context.WithoutCancel(ctx)
	h.broadcaster.Connect(bg, userID, conn)
	defer h.broadcaster.Disconnect(bg, userID, conn)

	log := h.logger.With(zap.String("user_id", userID), zap.String("conn_id", conn.ID()))
	log.Info("SSE client connected")

	if err := sendSSEEvent(w, flusher, "connected", &ConnectedEvent{UserID: userID, ConnectionID: conn.ID()}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("SSE client disconnected")
			return

		case <-conn.Done():
			return

		case ev := <-conn.Events():
			if err := sendSSEEvent(w, flusher, string(ev.Name), ev.Payload); err != nil {
				log.Warn("failed to write SSE event", zap.String("event", string(ev.Name)), zap.Error(err))
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, string(model.EventHeartbeat), &model.HeartbeatEvent{
				Timestamp: time.Now(),
			}); err != nil {
				return
			}
		}
	}
}

// Presence handles GET /api/v1/presence
func (h *StreamHandler) Presence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"online": h.broadcaster.Online(),
	})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
