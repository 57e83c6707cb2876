package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/synthiacore/synthia/internal/clock"
)

// Retention prunes aged job history on a daily schedule. On-demand
// cleanup stays available through Store.Cleanup.
type Retention struct {
	store  *Store
	clk    clock.Clock
	logger *slog.Logger
	days   int
	cron   *cron.Cron
}

func NewRetention(store *Store, clk clock.Clock, logger *slog.Logger, days int) *Retention {
	return &Retention{
		store:  store,
		clk:    clk,
		logger: logger.With("component", "history_retention"),
		days:   days,
	}
}

// Start schedules the daily prune and blocks until ctx is cancelled. An
// initial prune runs immediately so a long-stopped instance catches up.
func (r *Retention) Start(ctx context.Context) {
	r.prune()

	r.cron = cron.New()
	// Off-peak; exact hour is not load-bearing.
	if _, err := r.cron.AddFunc("17 3 * * *", r.prune); err != nil {
		r.logger.Error("schedule retention", "error", err)
		return
	}
	r.cron.Start()
	r.logger.Info("retention scheduled", "days", r.days)

	<-ctx.Done()
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.logger.Info("retention shut down")
}

func (r *Retention) prune() {
	cutoff := r.clk.Now().Add(-time.Duration(r.days) * 24 * time.Hour)
	removed, err := r.store.Cleanup(cutoff)
	if err != nil {
		r.logger.Error("retention prune", "error", err)
		return
	}
	if removed > 0 {
		r.logger.Info("pruned job history", "removed", removed, "cutoff", cutoff)
	}
}
