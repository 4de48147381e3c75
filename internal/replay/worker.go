// Package replay uploads ledger entries that were recorded while the
// backend was unreachable to the audit endpoint. It never re-submits a
// punch.
package replay

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"attendance.org/internal/clock"
	"attendance.org/internal/ledger"
	"attendance.org/internal/obs"
	"attendance.org/internal/session"
)

// Uploader is satisfied by remote.Client.
type Uploader interface {
	UploadAudit(ctx context.Context, entries []ledger.Entry) (int, error)
}

// Config tunes the worker. Zero values take the defaults: batches of 50,
// a five minute interval and one upload per second.
type Config struct {
	BatchSize     int
	Interval      time.Duration
	RatePerSecond float64
	Burst         int
}

// Worker drains PendingSync ledger entries to the audit endpoint.
type Worker struct {
	ledger   *ledger.Ledger
	up       Uploader
	limiter  *rate.Limiter
	batch    int
	interval time.Duration
	clock    clock.Clock
}

// New returns a Worker reading from l. A nil clk uses the real clock.
func New(l *ledger.Ledger, up Uploader, cfg Config, clk clock.Clock) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Worker{
		ledger:   l,
		up:       up,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		batch:    cfg.BatchSize,
		interval: cfg.Interval,
		clock:    clk,
	}
}

// RunOnce uploads every pending entry in batches and marks each uploaded
// batch synced. It stops at the first failed batch and returns how many
// entries were uploaded before it.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	pending, err := w.ledger.Pending(ctx)
	if err != nil {
		return 0, err
	}
	uploaded := 0
	for start := 0; start < len(pending); start += w.batch {
		end := min(start+w.batch, len(pending))
		chunk := pending[start:end]

		if err := w.limiter.Wait(ctx); err != nil {
			return uploaded, err
		}
		if _, err := w.up.UploadAudit(ctx, chunk); err != nil {
			return uploaded, err
		}
		for _, e := range chunk {
			w.ledger.MarkSynced(ctx, e)
		}
		uploaded += len(chunk)
		obs.ObserveReplayUploaded(len(chunk))
	}
	return uploaded, nil
}

// Run calls RunOnce every Interval until ctx ends. Upload errors are logged
// and retried on the next tick.
func (w *Worker) Run(ctx context.Context) error {
	t := w.clock.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			n, err := w.RunOnce(ctx)
			switch {
			case err == nil:
				if n > 0 {
					obs.Info("replayed pending ledger entries", map[string]any{"count": n})
				}
			case errors.Is(err, context.Canceled):
				return ctx.Err()
			case errors.Is(err, session.ErrNetworkUnavailable):
				obs.Warn("replay deferred, backend unreachable", map[string]any{"uploaded": n})
			default:
				obs.Error("replay failed", map[string]any{"uploaded": n, "error": err})
			}
		}
	}
}
