// Package apimetrics keeps a rolling window of observed API requests and
// derives the request-side signals (rps, p95, inflight, error rate) that
// feed the busy rating.
package apimetrics

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/synthiacore/synthia/internal/clock"
)

// Event is one observed request.
type Event struct {
	ArrivedAt  time.Time
	Path       string
	Client     string
	StatusCode int
	DurationMS float64
}

// PathCount is a (path|client, count) pair in a top-N listing.
type PathCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Snapshot is the aggregate over the current window. Read-mostly; safe to
// copy and serialize.
type Snapshot struct {
	WindowS      int         `json:"window_s"`
	Count        int         `json:"count"`
	RPS          float64     `json:"rps"`
	Inflight     int         `json:"inflight"`
	LatencyMSAvg float64     `json:"latency_ms_avg"`
	LatencyMSP95 float64     `json:"latency_ms_p95"`
	ErrorRate    float64     `json:"error_rate"`
	TopPaths     []PathCount `json:"top_paths"`
	TopClients   []PathCount `json:"top_clients"`
	TakenAt      time.Time   `json:"taken_at"`
}

// Collector is a bounded rolling window. Producers (request middleware)
// only append under a short critical section; the inflight counter is a
// plain atomic so it never contends with snapshotting.
type Collector struct {
	clk       clock.Clock
	window    time.Duration
	maxEvents int
	excluded  []string

	inflight atomic.Int64

	mu     sync.Mutex
	events []Event // ordered by ArrivedAt
}

func NewCollector(clk clock.Clock, window time.Duration, excludedPrefixes []string) *Collector {
	return &Collector{
		clk:       clk,
		window:    window,
		maxEvents: 50000,
		excluded:  excludedPrefixes,
	}
}

// Excluded reports whether a request path is kept out of the window
// (monitoring and documentation endpoints).
func (c *Collector) Excluded(path string) bool {
	for _, p := range c.excluded {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (c *Collector) Begin() { c.inflight.Add(1) }

func (c *Collector) End() {
	if c.inflight.Add(-1) < 0 {
		c.inflight.Store(0)
	}
}

func (c *Collector) Record(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	if len(c.events) > c.maxEvents {
		c.events = c.events[len(c.events)-c.maxEvents:]
	}
}

func (c *Collector) prune(now time.Time) {
	cutoff := now.Add(-c.window)
	i := 0
	for i < len(c.events) && c.events[i].ArrivedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.events = append(c.events[:0], c.events[i:]...)
	}
}

// Snapshot aggregates the live window. topN bounds the path/client
// listings.
func (c *Collector) Snapshot(topN int) Snapshot {
	now := c.clk.Now()

	c.mu.Lock()
	c.prune(now)
	evs := make([]Event, len(c.events))
	copy(evs, c.events)
	c.mu.Unlock()

	n := len(evs)
	windowS := int(c.window / time.Second)

	snap := Snapshot{
		WindowS:  windowS,
		Count:    n,
		Inflight: int(c.inflight.Load()),
		TakenAt:  now,
	}
	if windowS > 0 {
		snap.RPS = float64(n) / float64(windowS)
	}
	if n == 0 {
		return snap
	}

	durations := make([]float64, n)
	var sum float64
	errCount := 0
	paths := make(map[string]int)
	clients := make(map[string]int)
	for i, ev := range evs {
		durations[i] = ev.DurationMS
		sum += ev.DurationMS
		if ev.StatusCode >= 400 {
			errCount++
		}
		paths[ev.Path]++
		clients[ev.Client]++
	}

	snap.LatencyMSAvg = sum / float64(n)
	snap.LatencyMSP95 = p95(durations)
	snap.ErrorRate = float64(errCount) / float64(n)
	snap.TopPaths = topCounts(paths, topN)
	snap.TopClients = topCounts(clients, topN)
	return snap
}

// p95 takes index floor(0.95*(n-1)) of the sorted slice, so a fractional
// rank resolves to the lower index.
func p95(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	k := int(0.95 * float64(len(values)-1))
	return values[k]
}

func topCounts(m map[string]int, n int) []PathCount {
	out := make([]PathCount, 0, len(m))
	for k, v := range m {
		out = append(out, PathCount{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
