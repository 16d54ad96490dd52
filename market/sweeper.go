package market

import (
	"context"
	"log/slog"
	"time"
)

const defaultSweepInterval = 5 * time.Second

// Sweeper expires overdue RFPs on a coarse cadence so stale requests stop
// accepting bids even when nobody touches them.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger
}

// SweeperOption customises sweeper construction.
type SweeperOption func(*Sweeper)

// WithInterval overrides the sweep cadence.
func WithInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSweeper builds a sweeper over the given store.
func NewSweeper(store *Store, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:    store,
		interval: defaultSweepInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepOnce performs a single expiry pass and returns the expired RFP ids.
func (s *Sweeper) SweepOnce() []string {
	if s == nil || s.store == nil {
		return nil
	}
	expired := s.store.ExpireStale()
	for _, id := range expired {
		s.logger.Info("rfp expired", "rfp_id", id)
	}
	return expired
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	if s == nil || s.store == nil {
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}
