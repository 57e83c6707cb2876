package sched

import (
	"context"
	"log/slog"
	"time"
)

// evictEvery is how many reaper ticks pass between terminal-job eviction
// sweeps.
const evictEvery = 30

// Reaper periodically expires dead leases and evicts aged terminal jobs.
type Reaper struct {
	engine   *Engine
	logger   *slog.Logger
	interval time.Duration
}

func NewReaper(engine *Engine, logger *slog.Logger, interval time.Duration) *Reaper {
	return &Reaper{
		engine:   engine,
		logger:   logger.With("component", "reaper"),
		interval: interval,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval)

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper shut down")
			return
		case <-ticker.C:
			if expired := r.engine.ExpireTick(); expired > 0 {
				r.logger.Info("expired leases", "count", expired)
			}
			ticks++
			if ticks%evictEvery == 0 {
				if evicted := r.engine.EvictTick(); evicted > 0 {
					r.logger.Info("evicted terminal jobs", "count", evicted)
				}
			}
		}
	}
}
