// Package reaper expires stale sessions and purges old inactive ones on a fixed interval.
package reaper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"authgate/internal/platform/clock"
	"authgate/internal/platform/logger"
	"authgate/internal/platform/metrics"
)

const (
	DefaultInterval  = time.Hour
	DefaultRetention = 7 * 24 * time.Hour
	DefaultBatchSize = 500
)

// Store is the slice of the session repository the reaper needs.
type Store interface {
	DeactivateExpired(ctx context.Context, now time.Time, limit int) (int, error)
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Config controls the sweep cadence and size.
type Config struct {
	Interval  time.Duration
	Retention time.Duration
	BatchSize int
}

// Result counts the rows one sweep touched.
type Result struct {
	Deactivated int
	Deleted     int
}

// Reaper runs Sweep on every tick until its context is cancelled.
type Reaper struct {
	cfg     Config
	store   Store
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger

	newTicker func(time.Duration) (<-chan time.Time, func())
}

// New returns a Reaper. Zero config fields select the defaults.
func New(cfg Config, store Store, clk clock.Clock, m *metrics.Metrics, l *zap.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Reaper{
		cfg:     cfg,
		store:   store,
		clock:   clock.OrSystem(clk),
		metrics: m,
		log:     logger.WithComponent(l, "reaper"),
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Sweep deactivates every active session past its refresh expiry (reason EXPIRED), then deletes
// inactive sessions revoked before now minus the retention window. Both phases work in batches of
// BatchSize. Running it twice with no time elapsed changes nothing the second time.
func (r *Reaper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	now := r.clock.Now()

	n, err := r.drain(ctx, func(ctx context.Context) (int, error) {
		return r.store.DeactivateExpired(ctx, now, r.cfg.BatchSize)
	})
	res.Deactivated = n
	if err != nil {
		return res, fmt.Errorf("reaper: deactivate expired: %w", err)
	}

	n, err = r.drain(ctx, func(ctx context.Context) (int, error) {
		return r.store.DeleteInactiveBefore(ctx, now.Add(-r.cfg.Retention), r.cfg.BatchSize)
	})
	res.Deleted = n
	if err != nil {
		return res, fmt.Errorf("reaper: delete inactive: %w", err)
	}
	return res, nil
}

// drain repeats batch until it returns a short batch.
func (r *Reaper) drain(ctx context.Context, batch func(context.Context) (int, error)) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := batch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < r.cfg.BatchSize {
			return total, nil
		}
	}
}

// Run sweeps once immediately and then on every interval until ctx is done. Sweep failures and
// panics are logged and retried on the next tick.
func (r *Reaper) Run(ctx context.Context) {
	ticks, stop := r.newTicker(r.cfg.Interval)
	defer stop()

	r.log.Info("reaper started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("retention", r.cfg.Retention),
		zap.Int("batch_size", r.cfg.BatchSize))
	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return
		case <-ticks:
			r.tick(ctx)
		}
	}
}

func (r *Reaper) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("reaper sweep panicked", zap.Any("panic", p))
			r.metrics.ReaperSweep(0, 0, time.Since(start).Seconds(), fmt.Errorf("panic: %v", p))
		}
	}()
	res, err := r.Sweep(ctx)
	r.metrics.ReaperSweep(res.Deactivated, res.Deleted, time.Since(start).Seconds(), err)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error("reaper sweep failed", zap.Error(err),
				zap.Int("deactivated", res.Deactivated), zap.Int("deleted", res.Deleted))
		}
		return
	}
	if res.Deactivated > 0 || res.Deleted > 0 {
		r.log.Info("reaper sweep", zap.Int("deactivated", res.Deactivated), zap.Int("deleted", res.Deleted))
	}
}
