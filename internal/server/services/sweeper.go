package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/logging"
	"github.com/dmitrijs2005/modernapi/internal/server/repositories/repomanager"
)

// TokenSweeper periodically deletes refresh tokens past their expiry.
// Revoked but unexpired tokens are kept for audit until they expire too.
type TokenSweeper struct {
	store    *repomanager.Store
	metrics  Metrics
	logger   logging.Logger
	now      func() time.Time
	interval time.Duration
}

func NewTokenSweeper(store *repomanager.Store, interval time.Duration, metrics Metrics, logger logging.Logger, clock func() time.Time) *TokenSweeper {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &TokenSweeper{
		store:    store,
		metrics:  metrics,
		logger:   logger.With("module", "token_sweeper"),
		now:      defaultClock(clock),
		interval: interval,
	}
}

// Sweep runs one cleanup pass and returns the number of deleted tokens.
func (s *TokenSweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.Manager.RefreshTokens(s.store.DB).RemoveExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("remove expired refresh tokens: %w", err)
	}
	s.metrics.ObserveSweep(n)
	if n > 0 {
		s.logger.Info(ctx, "expired refresh tokens removed", "count", n)
	}
	return n, nil
}

// Run sweeps every interval until ctx is done. A failed pass is logged and
// retried on the next tick. A non-positive interval disables the loop.
func (s *TokenSweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info(ctx, "token sweeper disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error(ctx, "token sweep failed", "error", err)
			}
		}
	}
}
