package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

const (
	DefaultRetentionCron = "@hourly"
	DefaultMaxAge        = 7 * 24 * time.Hour

	retryDelay = 30 * time.Second
)

type Retention struct {
	log    *zap.Logger
	ledger Ledger
	cron   string
	maxAge time.Duration
	now    func() time.Time
}

func NewRetention(log *zap.Logger, ledger Ledger, cron string, maxAge time.Duration) (*Retention, error) {
	if cron == "" {
		cron = DefaultRetentionCron
	}

	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", cron)
	}

	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	return &Retention{
		log:    log,
		ledger: ledger,
		cron:   cron,
		maxAge: maxAge,
		now:    time.Now,
	}, nil
}

// RunOnce drops every entry older than the retention window.
func (r *Retention) RunOnce(ctx context.Context) (int, error) {
	removed, err := r.ledger.Prune(ctx, r.now().Add(-r.maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to prune ledger: %w", err)
	}

	return removed, nil
}

// Run prunes on every cron tick until ctx is done.
func (r *Retention) Run(ctx context.Context) {
	r.log.Info("Retention started", zap.String("cron", r.cron), zap.Duration("maxAge", r.maxAge))

	for {
		next, err := gronx.NextTickAfter(r.cron, r.now().UTC(), false)

		wait := retryDelay
		if err != nil {
			r.log.Error("Failed to compute next retention tick", zap.String("cron", r.cron), zap.Error(err))
		} else {
			wait = time.Until(next)
		}

		select {
		case <-ctx.Done():
			r.log.Info("Retention stopping")
			return
		case <-time.After(wait):
		}

		if err != nil {
			continue
		}

		removed, err := r.RunOnce(ctx)
		if err != nil {
			r.log.Error("Retention run failed", zap.Error(err))
			continue
		}

		r.log.Info("Ledger pruned", zap.Int("removed", removed))
	}
}
