package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/choreboard/internal/invite"
	"github.com/dukerupert/choreboard/internal/middleware"
	"github.com/dukerupert/choreboard/internal/store"
)

// CleanupReport counts the rows and rate-limit buckets removed by one sweep.
type CleanupReport struct {
	InviteCodes   int64
	Sessions      int64
	Confirmations int64
	RateLimitKeys int
}

// Cleaner periodically purges expired invite codes, sessions and email
// confirmations.
type Cleaner struct {
	mu            sync.RWMutex
	invites       *invite.Manager
	sessions      *store.SessionStore
	confirmations *store.EmailConfirmationStore
	limiter       *middleware.RateLimiter
	interval      time.Duration
	logger        *slog.Logger
	cancel        context.CancelFunc
	done          chan struct{}
}

func NewCleaner(inv *invite.Manager, ss *store.SessionStore, ecs *store.EmailConfirmationStore, limiter *middleware.RateLimiter, interval time.Duration, logger *slog.Logger) *Cleaner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Cleaner{
		invites:       inv,
		sessions:      ss,
		confirmations: ecs,
		limiter:       limiter,
		interval:      interval,
		logger:        logger.With("component", "cleanup"),
	}
}

// RunOnce performs a single sweep. Failures are logged and the remaining
// steps still run.
func (c *Cleaner) RunOnce(ctx context.Context) CleanupReport {
	var rep CleanupReport
	rep.InviteCodes = c.invites.CleanupExpired(ctx)

	n, err := c.sessions.DeleteExpired(ctx)
	if err != nil {
		c.logger.Error("delete expired sessions", "error", err)
	}
	rep.Sessions = n

	n, err = c.confirmations.DeleteExpired(ctx)
	if err != nil {
		c.logger.Error("delete expired email confirmations", "error", err)
	}
	rep.Confirmations = n

	if c.limiter != nil {
		rep.RateLimitKeys = c.limiter.Cleanup()
	}

	if rep.Sessions > 0 || rep.Confirmations > 0 {
		c.logger.Info("cleanup finished", "sessions", rep.Sessions, "confirmations", rep.Confirmations)
	}
	return rep
}

// Start runs a sweep immediately and then on every interval until Stop.
func (c *Cleaner) Start(ctx context.Context) {
	c.mu.Lock()
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunOnce(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (c *Cleaner) Stop() {
	c.mu.RLock()
	cancel := c.cancel
	done := c.done
	c.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
