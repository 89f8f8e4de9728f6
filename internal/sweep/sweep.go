// Package sweep optionally purges share links long past their expiry.
// Expiry itself never depends on it: resolution computes it on every
// request. The sweep only keeps the links table from growing forever.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"file-portal/internal/logging"
)

// Purger removes links created before a cutoff.
type Purger interface {
	PurgeLinksCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls the sweep. Links older than LinkTTL+Retention are purged.
type Config struct {
	Enabled   bool
	Schedule  string // cron spec, e.g. "@every 1h"
	LinkTTL   time.Duration
	Retention time.Duration
	Now       func() time.Time
}

// Sweeper runs the purge on a cron schedule.
type Sweeper struct {
	cfg    Config
	purger Purger
	cron   *cron.Cron
}

func New(cfg Config, purger Purger) *Sweeper {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{cfg: cfg, purger: purger}
}

// Cutoff is the creation time before which links are purged.
func (s *Sweeper) Cutoff() time.Time {
	return s.cfg.Now().Add(-(s.cfg.LinkTTL + s.cfg.Retention))
}

// RunOnce performs a single purge.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	start := time.Now()
	cutoff := s.Cutoff()
	n, err := s.purger.PurgeLinksCreatedBefore(ctx, cutoff)
	if err != nil {
		logging.Error("link_sweep_failed", map[string]any{"cutoff": cutoff}, err)
		return 0, err
	}
	logging.Info("link_sweep_complete", map[string]any{
		"purged":      n,
		"cutoff":      cutoff.Format(time.RFC3339),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return n, nil
}

// Start schedules the purge until ctx is cancelled. It returns immediately;
// a disabled sweep does nothing.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		logging.Info("link_sweep_disabled", nil)
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		_, _ = s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule link sweep %q: %w", s.cfg.Schedule, err)
	}
	s.cron = c

	logging.Info("link_sweep_starting", map[string]any{
		"schedule":  s.cfg.Schedule,
		"ttl":       s.cfg.LinkTTL.String(),
		"retention": s.cfg.Retention.String(),
	})
	c.Start()

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		logging.Info("link_sweep_stopped", nil)
	}()
	return nil
}
