// Package sweeper runs the fixed-interval expiry pass. All TTL semantics are
// centrally swept here rather than scheduled per chain, so resource use stays
// independent of request volume.
package sweeper

import (
	"context"
	"log"
	"time"
)

// Target is the subset of gateway behavior the sweeper drives.
type Target interface {
	SweepExpired(ctx context.Context) (expired, revoked, evicted int)
	EmitMetrics(ctx context.Context)
}

// Config controls sweep and metrics cadence. Zero values fall back to 60s.
type Config struct {
	Interval        time.Duration
	MetricsInterval time.Duration
}

// Sweeper owns the periodic loop.
type Sweeper struct {
	target Target
	cfg    Config
}

// New builds a sweeper with defaulted config.
func New(target Target, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = 60 * time.Second
	}
	return &Sweeper{target: target, cfg: cfg}
}

// Run blocks until ctx is cancelled, sweeping at the configured interval and
// emitting the metrics summary on its own cadence. Safe to run in a goroutine.
func (s *Sweeper) Run(ctx context.Context) error {
	log.Printf("[sweeper] starting (interval=%s)", s.cfg.Interval)
	defer log.Printf("[sweeper] stopped")

	sweep := time.NewTicker(s.cfg.Interval)
	defer sweep.Stop()
	metrics := time.NewTicker(s.cfg.MetricsInterval)
	defer metrics.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			expired, revoked, evicted := s.target.SweepExpired(ctx)
			if expired+revoked+evicted > 0 {
				log.Printf("[sweeper] pass: expired=%d revoked=%d evicted=%d", expired, revoked, evicted)
			}
		case <-metrics.C:
			s.target.EmitMetrics(ctx)
		}
	}
}
