// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/talkora/chat-platform/internal/assets"
	"github.com/talkora/chat-platform/internal/config"
	"github.com/talkora/chat-platform/internal/handler"
	"github.com/talkora/chat-platform/internal/membership"
	natsclient "github.com/talkora/chat-platform/internal/nats"
	"github.com/talkora/chat-platform/internal/presence"
	"github.com/talkora/chat-platform/internal/realtime"
	"github.com/talkora/chat-platform/internal/reaper"
	"github.com/talkora/chat-platform/internal/service"
	"github.com/talkora/chat-platform/internal/store"
	"github.com/talkora/chat-platform/internal/store/memory"
	"github.com/talkora/chat-platform/internal/store/mongostore"
	"github.com/talkora/chat-platform/internal/store/pebblestore"
	"github.com/talkora/chat-platform/pkg/logger"
	"github.com/talkora/chat-platform/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "chat-platform",
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	defer logger.SetGlobal(log)()

	log.Info("starting API server", zap.String("store", cfg.StoreDriver))

	ctx := context.Background()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	deps := map[string]handler.Pinger{"store": st}

	// Realtime: presence registry, broadcaster and the optional NATS relay
	var relayOpts []realtime.BroadcasterOption
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Timeout:  cfg.NATSTimeout,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsClient.Close()

		relay := natsclient.NewRelay(natsClient, cfg.NATSMaxAge)
		if err := relay.EnsureStream(ctx); err != nil {
			return fmt.Errorf("failed to ensure event stream: %w", err)
		}
		relayOpts = append(relayOpts, realtime.WithRelay(relay))
		deps["nats"] = natsClient
	}
	broadcaster := realtime.NewBroadcaster(presence.New(), log.Named("realtime"), relayOpts...)

	// Asset collaborator
	var uploader assets.Uploader = assets.PassThrough{}
	if cfg.AssetServiceURL != "" {
		uploader = assets.NewHTTPUploader(cfg.AssetServiceURL, cfg.AssetServiceToken, log.Named("assets"))
	}

	// Initialize services
	opts := []service.Option{
		service.WithLeavePolicy(membership.ParseLeavePolicy(cfg.GroupLeavePolicy)),
		service.WithStoryTTL(cfg.StoryTTL),
	}
	conversationSvc := service.NewConversationService(st, broadcaster, uploader, log, opts...)
	messageSvc := service.NewMessageService(st, broadcaster, uploader, log, opts...)
	storySvc := service.NewStoryService(st, uploader, log, opts...)
	userSvc := service.NewUserService(st, uploader, log)

	// Background cleanup
	rp, err := reaper.New(st, cfg.ReaperCron, log.Named("reaper"))
	if err != nil {
		return err
	}
	stopReaper := rp.Start(ctx)
	defer stopReaper()

	router := handler.NewRouter(handler.RouterConfig{
		Conversations:     conversationSvc,
		Messages:          messageSvc,
		Stories:           storySvc,
		Users:             userSvc,
		Broadcaster:       broadcaster,
		Dependencies:      deps,
		JWTSecret:         cfg.JWTSecret,
		AllowedOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		RequestTimeout:    cfg.ServerWriteTimeout,
		SendBuffer:        cfg.WSSendBuffer,
		Logger:            log,
	})

	// No WriteTimeout: SSE and websocket connections are long-lived. REST
	// routes are bounded by RequestTimeout instead.
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadTimeout:       cfg.ServerReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Shutdown neither waits on nor ends hijacked websockets, and SSE streams
	// never go idle. Closing every handle makes both transports return.
	server.RegisterOnShutdown(broadcaster.CloseAll)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		st, err := mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDatabase, log.Named("mongo"))
		if err != nil {
			return nil, fmt.Errorf("failed to open mongo store: %w", err)
		}
		return st, nil
	case config.DriverMemory:
		log.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil
	default:
		st, err := pebblestore.Open(cfg.PebblePath, log.Named("pebble"))
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble store: %w", err)
		}
		return st, nil
	}
}
