package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/Anvoria/keyrelay/internal/metrics"
	"github.com/oklog/ulid/v2"
)

// ReaperOptions configures the expiration sweep
type ReaperOptions struct {
	Interval  time.Duration
	BatchSize int
	Cache     RevocationCache
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Reaper revokes expired sessions in the off-chain store on a fixed interval.
// On-chain accounts are left to the program's own expiry check.
type Reaper struct {
	repo      Repository
	interval  time.Duration
	batchSize int
	cache     RevocationCache
	metrics   *metrics.Metrics
	now       func() time.Time
}

// SweepResult summarizes one pass
type SweepResult struct {
	RunID   string
	Found   int
	Revoked int
	Skipped int
	Failed  int
}

func NewReaper(repo Repository, opts ReaperOptions) *Reaper {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reaper{
		repo:      repo,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	slog.Info("Session reaper started", "interval", r.interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Session sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("Session reaper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Drain sweeps batch after batch until the backlog is cleared. It stops early
// when a batch revokes nothing, so rows that keep failing wait for the next call.
// The result totals every batch and carries the first batch's run id.
func (r *Reaper) Drain(ctx context.Context) (SweepResult, error) {
	var total SweepResult
	for {
		res, err := r.Sweep(ctx)
		if total.RunID == "" {
			total.RunID = res.RunID
		}
		total.Found += res.Found
		total.Revoked += res.Revoked
		total.Failed += res.Failed
		total.Skipped += res.Skipped
		if err != nil {
			return total, err
		}

		if r.batchSize <= 0 || res.Found < r.batchSize || res.Revoked == 0 || ctx.Err() != nil {
			return total, nil
		}
	}
}

// Sweep revokes every expired, unrevoked session in one batch. A failure on one
// session is logged and the sweep moves on. Once ctx is done the rest of the
// batch is skipped.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	started := time.Now()
	res := SweepResult{RunID: ulid.Make().String()}
	log := slog.With("run_id", res.RunID)

	now := r.now().UTC()
	expired, err := r.repo.FindExpiredUnrevoked(ctx, now.Unix(), r.batchSize)
	if err != nil {
		return res, storeError(err)
	}
	res.Found = len(expired)

	for i, sess := range expired {
		if ctx.Err() != nil {
			res.Skipped = len(expired) - i
			log.Info("Sweep interrupted", "skipped", res.Skipped)
			break
		}

		changed, err := r.repo.MarkRevoked(ctx, sess.SessionPublicKey, sess.UserMainPublicKey)
		if err != nil {
			res.Failed++
			log.Error("Failed to revoke expired session", "error", err, "session_public_key", sess.SessionPublicKey)
			continue
		}
		if !changed {
			// revoked concurrently by its owner
			continue
		}

		res.Revoked++
		r.metrics.Revocation(metrics.SourceReaper)
		if r.cache != nil {
			if err := r.cache.MarkRevoked(ctx, sess.SessionPublicKey, sess.UserMainPublicKey, 0); err != nil {
				log.Warn("Failed to cache session revocation", "error", err, "session_public_key", sess.SessionPublicKey)
			}
		}
	}

	r.metrics.Sweep(time.Since(started), res.Failed)
	if res.Found > 0 {
		log.Info("Expired sessions revoked",
			"found", res.Found,
			"revoked", res.Revoked,
			"failed", res.Failed,
			"skipped", res.Skipped,
		)
	}
	return res, nil
}
