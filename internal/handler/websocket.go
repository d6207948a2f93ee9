package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/talkora/chat-platform/internal/middleware"
	"github.com/talkora/chat-platform/internal/model"
	"github.com/talkora/chat-platform/internal/realtime"
	"github.com/talkora/chat-platform/pkg/logger"
	"github.com/talkora/chat-platform/pkg/metrics"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxInboundSize = 64 << 10
)

// inboundFrame is a client-originated websocket frame.
type inboundFrame struct {
	Event model.EventName `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Gateway is the websocket transport. Clients authenticate with the token
// query parameter because browsers cannot set headers on the upgrade.
type Gateway struct {
	broadcaster *realtime.Broadcaster
	jwtSecret   string
	sendBuffer  int
	upgrader    websocket.Upgrader
	logger      *logger.Logger
}

// NewGateway creates a websocket gateway. An origin list containing "*"
// accepts any origin.
func NewGateway(b *realtime.Broadcaster, jwtSecret string, sendBuffer int, allowedOrigins []string, log *logger.Logger) *Gateway {
	return &Gateway{
		broadcaster: b,
		jwtSecret:   jwtSecret,
		sendBuffer:  sendBuffer,
		logger:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

// ServeHTTP handles GET /ws?token=...
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.VerifyToken(g.jwtSecret, r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	subject := claims.Subject

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		g.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	metrics.IncrementConnections("websocket")
	defer metrics.DecrementConnections("websocket")

	conn := realtime.NewBufferedConn(uuid.NewString(), g.sendBuffer)
	log := g.logger.With(zap.String("user_id", subject), zap.String("conn_id", conn.ID()))
	ctx := context.WithoutCancel(r.Context())

	g.broadcaster.Connect(ctx, subject, conn)
	log.Info("websocket client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ws, conn, log)
	}()

	g.readLoop(ctx, ws, log)

	g.broadcaster.Disconnect(ctx, subject, conn)
	<-writerDone
	ws.Close()
	log.Info("websocket client disconnected")
}

// readLoop consumes client frames until the connection fails.
func (g *Gateway) readLoop(ctx context.Context, ws *websocket.Conn, log *logger.Logger) {
	ws.SetReadLimit(wsMaxInboundSize)
	ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var frame inboundFrame
		if err := ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		switch frame.Event {
		case model.EventChatMessage:
			g.broadcaster.BroadcastAll(ctx, model.EventChatMessage, frame.Data)
		default:
			log.Debug("ignoring websocket frame", zap.String("event", string(frame.Event)))
		}
	}
}

// writeLoop drains conn into ws and keeps the connection alive with pings.
func (g *Gateway) writeLoop(ws *websocket.Conn, conn *realtime.BufferedConn, log *logger.Logger) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-conn.Done():
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			// a client that never answers the close frame still releases the reader
			ws.UnderlyingConn().SetReadDeadline(time.Now().Add(wsWriteWait))
			return

		case ev := <-conn.Events():
			ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteJSON(ev); err != nil {
				log.Debug("websocket write failed", zap.Error(err))
				// Unblock the reader so the connection is torn down.
				ws.Close()
				<-conn.Done()
				return
			}

		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				ws.Close()
				<-conn.Done()
				return
			}
		}
	}
}
