// Package retention purges attempt ledger rows of settled deliveries once
// they age out of the audit window.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Store is the subset of the delivery store the sweeper needs.
type Store interface {
	PurgeAttempts(ctx context.Context, cutoff time.Time) (int, error)
}

// Sweeper periodically deletes attempt rows of terminal deliveries older
// than the retention window. Rows of live deliveries are never touched.
type Sweeper struct {
	store    Store
	window   time.Duration
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a retention sweeper. A zero window disables sweeping.
func NewSweeper(store Store, window, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		window:   window,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the periodic sweep.
func (s *Sweeper) Start(ctx context.Context) {
	if s.window <= 0 || s.interval <= 0 {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for a running sweep to finish.
func (s *Sweeper) Stop(_ context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Sweep runs one purge pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.window)
	purged, err := s.store.PurgeAttempts(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "attempt retention sweep failed", "error", err)
		return
	}
	if purged > 0 {
		s.logger.InfoContext(ctx, "purged attempt ledger rows",
			"purged", purged, "cutoff", cutoff)
	}
}
