// Package sampler drives periodic host and API sampling, derives the
// busy rating that gates scheduler admission, and persists one snapshot
// per minute.
package sampler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/synthiacore/synthia/internal/apimetrics"
	"github.com/synthiacore/synthia/internal/clock"
	"github.com/synthiacore/synthia/internal/metrics"
)

// HealthSnapshot is the combined host + API sample.
type HealthSnapshot struct {
	Timestamp  time.Time           `json:"timestamp"`
	Host       HostStats           `json:"host"`
	API        apimetrics.Snapshot `json:"api"`
	BusyRating float64             `json:"busy_rating"`
	Signals    map[string]float64  `json:"signals"`
	Quiet      QuietAssessment     `json:"quiet"`
}

// MinuteStore is the durable sink for minute-aligned samples.
type MinuteStore interface {
	InsertMinute(ts int64, busy float64, snapshot []byte) error
	PruneOlderThan(cutoff int64) error
}

// staleAfter bounds how old the cached snapshot may be before consumers
// must fail closed.
const staleAfter = 30 * time.Second

type Sampler struct {
	clk       clock.Clock
	api       *apimetrics.Collector
	store     MinuteStore
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	bp        Breakpoints

	latest     atomic.Pointer[HealthSnapshot]
	lastMinute int64
	prevNet    *NetCounters
	prevNetAt  time.Time
}

func New(clk clock.Clock, api *apimetrics.Collector, store MinuteStore, logger *slog.Logger, interval, retention time.Duration) *Sampler {
	return &Sampler{
		clk:       clk,
		api:       api,
		store:     store,
		logger:    logger.With("component", "sampler"),
		interval:  interval,
		retention: retention,
		bp:        DefaultBreakpoints(),
	}
}

// Run ticks until ctx is cancelled. The tick in flight completes before
// Run returns.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sampler started", "interval", s.interval)

	// Prime the cache so the scheduler is not fail-closed for a full
	// interval after boot.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sampler shut down")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sampler) tick(ctx context.Context) {
	started := time.Now()

	collectCtx, cancel := context.WithTimeout(ctx, s.interval)
	hostStats := collectHost(collectCtx)
	cancel()

	now := s.clk.Now()
	apiSnap := s.api.Snapshot(10)

	if hostStats.Net != nil {
		if s.prevNet != nil {
			hostStats.Net.Rates = netRates(*s.prevNet, hostStats.Net.Totals, now.Sub(s.prevNetAt).Seconds())
		}
		totals := hostStats.Net.Totals
		s.prevNet = &totals
		s.prevNetAt = now
	}

	busy, perSignal := BusyRating(s.signals(hostStats, apiSnap), s.bp)

	snap := &HealthSnapshot{
		Timestamp:  now,
		Host:       hostStats,
		API:        apiSnap,
		BusyRating: busy,
		Signals:    perSignal,
		Quiet:      AssessQuiet(busy),
	}
	s.latest.Store(snap)

	metrics.BusyRating.Set(busy)
	metrics.SamplerTickDuration.Observe(time.Since(started).Seconds())

	s.persistMinute(now, snap)
}

// signals extracts busy-rating inputs; probes that failed stay nil so
// they rate the maximum.
func (s *Sampler) signals(h HostStats, api apimetrics.Snapshot) Signals {
	var sig Signals

	if h.CPU != nil {
		f := h.CPU.PercentTotal / 100
		sig.CPUFrac = &f
		if h.Load != nil && h.CPU.CoresLogical > 0 {
			perCore := h.Load.Load1 / float64(h.CPU.CoresLogical)
			sig.LoadPerCore = &perCore
		}
	}
	if h.Mem != nil {
		f := h.Mem.Percent / 100
		sig.MemFrac = &f
	}

	p95 := api.LatencyMSP95
	inflight := float64(api.Inflight)
	errRate := api.ErrorRate
	rps := api.RPS
	sig.APIP95MS = &p95
	sig.APIInflight = &inflight
	sig.APIErrorRate = &errRate
	sig.APIRPS = &rps

	return sig
}

// persistMinute writes one durable row at the first tick of each new
// minute, then applies rolling retention.
func (s *Sampler) persistMinute(now time.Time, snap *HealthSnapshot) {
	minute := now.Unix() / 60
	if minute <= s.lastMinute {
		return
	}
	if s.lastMinute == 0 {
		// First tick after boot: remember the minute, write on rollover.
		s.lastMinute = minute
		return
	}
	s.lastMinute = minute

	ts := minute * 60
	blob, err := json.Marshal(snap)
	if err != nil {
		s.logger.Error("marshal snapshot", "error", err)
		return
	}
	if err := s.store.InsertMinute(ts, snap.BusyRating, blob); err != nil {
		s.logger.Error("persist minute sample", "error", err)
		metrics.HistoryWritesTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.HistoryWritesTotal.WithLabelValues("ok").Inc()

	cutoff := now.Add(-s.retention).Unix()
	if err := s.store.PruneOlderThan(cutoff); err != nil {
		s.logger.Error("prune minute samples", "error", err)
	}
}

// Latest returns the cached snapshot. ok=false when nothing has been
// sampled yet.
func (s *Sampler) Latest() (HealthSnapshot, bool) {
	snap := s.latest.Load()
	if snap == nil {
		return HealthSnapshot{}, false
	}
	return *snap, true
}

// BusyRatingNow feeds the scheduler. ok=false when the snapshot is
// missing or stale; the scheduler treats that as busy=10.
func (s *Sampler) BusyRatingNow() (float64, bool) {
	snap := s.latest.Load()
	if snap == nil {
		return 0, false
	}
	if s.clk.Now().Sub(snap.Timestamp) > staleAfter {
		return 0, false
	}
	return snap.BusyRating, true
}
