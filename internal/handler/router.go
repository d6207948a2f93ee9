package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talkora/chat-platform/internal/middleware"
	"github.com/talkora/chat-platform/internal/realtime"
	"github.com/talkora/chat-platform/internal/service"
	"github.com/talkora/chat-platform/pkg/logger"
)

// RouterConfig carries everything the HTTP surface is built from.
type RouterConfig struct {
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Stories       *service.StoryService
	Users         *service.UserService
	Broadcaster   *realtime.Broadcaster
	Dependencies  map[string]Pinger

	JWTSecret         string
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RequestTimeout    time.Duration
	SendBuffer        int

	Logger *logger.Logger
}

// NewRouter builds the chi router for the API server.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger

	healthHandler := NewHealthHandler(cfg.Dependencies)
	conversationHandler := NewConversationHandler(cfg.Conversations, log)
	messageHandler := NewMessageHandler(cfg.Messages, log)
	storyHandler := NewStoryHandler(cfg.Stories, log)
	userHandler := NewUserHandler(cfg.Users, log)
	streamHandler := NewStreamHandler(cfg.Broadcaster, cfg.SendBuffer, log)
	gateway := NewGateway(cfg.Broadcaster, cfg.JWTSecret, cfg.SendBuffer, cfg.AllowedOrigins, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Websocket authenticates with the token query parameter
	r.With(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)).Get("/ws", gateway.ServeHTTP)

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/events", streamHandler.Events)

		r.Group(func(r chi.Router) {
			if cfg.RequestTimeout > 0 {
				r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
			}

			r.Get("/presence", streamHandler.Presence)

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", conversationHandler.List)
				r.Post("/direct", conversationHandler.StartDirect)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", conversationHandler.Get)
					r.Post("/leave", conversationHandler.Leave)
					r.Post("/read", messageHandler.MarkRead)

					// Messages
					r.Get("/messages", messageHandler.List)
					r.Post("/messages", messageHandler.Send)
				})
			})

			r.Delete("/messages/{id}", messageHandler.Delete)

			r.Route("/groups", func(r chi.Router) {
				r.Post("/", conversationHandler.CreateGroup)

				r.Route("/{id}", func(r chi.Router) {
					r.Put("/", conversationHandler.UpdateGroup)
					r.Get("/members", conversationHandler.Members)
					r.Post("/members", conversationHandler.AddMembers)
					r.Delete("/members", conversationHandler.RemoveMembers)
				})
			})

			r.Route("/stories", func(r chi.Router) {
				r.Post("/", storyHandler.Add)
				r.Get("/connected", storyHandler.Connected)
				r.Get("/by/{username}", storyHandler.ByAuthor)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", storyHandler.Get)
					r.Post("/likes", storyHandler.Like)
					r.Post("/comments", storyHandler.Comment)
				})
			})

			r.Get("/users/me", userHandler.Me)
			r.Put("/users/me", userHandler.UpdateMe)
		})
	})

	return r
}
