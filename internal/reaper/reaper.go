// Package reaper removes empty conversations and expired stories on a cron
// schedule.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/talkora/chat-platform/internal/store"
	"github.com/talkora/chat-platform/pkg/logger"
	"github.com/talkora/chat-platform/pkg/metrics"
)

// DefaultCron runs the reaper every 30 minutes.
const DefaultCron = "*/30 * * * *"

const retryDelay = 30 * time.Second

// Reaper is the background cleanup task.
type Reaper struct {
	store  store.Store
	cron   string
	logger *logger.Logger
	now    func() time.Time

	mu sync.Mutex
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) { r.now = now }
}

// New validates cronExpr and creates a reaper. An empty expression selects
// DefaultCron.
func New(st store.Store, cronExpr string, log *logger.Logger, opts ...Option) (*Reaper, error) {
	if cronExpr == "" {
		cronExpr = DefaultCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid reaper cron expression: %q", cronExpr)
	}
	r := &Reaper{
		store:  st,
		cron:   cronExpr,
		logger: log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start runs the schedule until ctx is cancelled or the returned stop
// function is called. stop waits for an in-flight run to finish.
func (r *Reaper) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.logger.Info("reaper started", zap.String("cron", r.cron))
	go func() {
		defer close(done)
		r.loop(ctx)
	}()

	return func() {
		cancel()
		<-done
	}
}

func (r *Reaper) loop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(r.cron, r.now().UTC(), false)
		wait := time.Until(next)
		if err != nil {
			r.logger.Error("reaper next tick failed", zap.String("cron", r.cron), zap.Error(err))
			wait = retryDelay
		}

		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopping")
			return
		case <-time.After(wait):
		}
		if err != nil {
			continue
		}

		if err := r.RunOnce(ctx); err != nil {
			r.logger.Error("reaper run failed", zap.Error(err))
		}
	}
}

// RunOnce performs one cleanup pass. Every task runs even if an earlier one
// fails; the failures are returned joined.
func (r *Reaper) RunOnce(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()

	convs, convErr := r.store.DeleteEmptyConversations(ctx)
	metrics.RecordReaperRun("empty_conversations", convs, convErr)
	if convErr != nil {
		convErr = fmt.Errorf("delete empty conversations: %w", convErr)
	}

	stories, storyErr := r.store.PurgeExpiredStories(ctx, r.now())
	metrics.RecordReaperRun("expired_stories", stories, storyErr)
	if storyErr != nil {
		storyErr = fmt.Errorf("purge expired stories: %w", storyErr)
	}

	r.logger.Info("reaper run complete",
		zap.Int("conversations_removed", convs),
		zap.Int("stories_removed", stories),
		zap.Duration("duration", time.Since(start)),
	)
	return errors.Join(convErr, storyErr)
}
