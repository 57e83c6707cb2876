// Package sched implements the capacity-aware pull scheduler: job
// submission, lease-based dispatch, heartbeats and finalization.
package sched

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/synthiacore/synthia/internal/clock"
	"github.com/synthiacore/synthia/internal/domain"
	"github.com/synthiacore/synthia/internal/metrics"
)

// Audit event types written to the durable event log.
const (
	EventJobSubmitted  = "JOB_SUBMITTED"
	EventJobCancelled  = "JOB_CANCELLED"
	EventLeaseGranted  = "LEASE_GRANTED"
	EventLeaseReleased = "LEASE_RELEASED"
	EventLeaseExpired  = "LEASE_EXPIRED"
)

// AuditEvent is one entry of the append-only event log.
type AuditEvent struct {
	TS         time.Time
	EntityKind string
	EntityID   string
	Type       string
	Data       map[string]any
}

// Recorder receives job projections and audit events. Implementations
// must not block: the engine calls these under its mutex.
type Recorder interface {
	RecordJob(job domain.Job, workerID string)
	RecordEvent(ev AuditEvent)
}

// BusyFunc returns the current busy rating. ok=false means the signal is
// missing or stale, which the engine treats as busy=10 (fail closed).
type BusyFunc func() (rating float64, ok bool)

type Options struct {
	TotalCapacityUnits int
	ReserveUnits       int
	LeaseTTL           time.Duration
	HeartbeatGrace     time.Duration
	RetryBase          time.Duration
	TerminalRetention  time.Duration
	TerminalCap        int
}

// Engine serializes all state mutations behind one mutex. Nothing inside
// the critical section performs I/O; durable writes go through the
// Recorder's bounded queue.
type Engine struct {
	mu     sync.Mutex
	store  *Store
	clk    clock.Clock
	busy   BusyFunc
	rec    Recorder
	logger *slog.Logger
	opts   Options
}

func NewEngine(store *Store, clk clock.Clock, busy BusyFunc, rec Recorder, logger *slog.Logger, opts Options) *Engine {
	return &Engine{
		store:  store,
		clk:    clk,
		busy:   busy,
		rec:    rec,
		logger: logger.With("component", "scheduler"),
		opts:   opts,
	}
}

func (e *Engine) busyRating() int {
	rating, ok := e.busy()
	if !ok {
		return 10
	}
	b := int(math.Round(rating))
	if b < 0 {
		b = 0
	}
	if b > 10 {
		b = 10
	}
	return b
}

// SubmitInput carries a validated job intent.
type SubmitInput struct {
	AddonID        string
	Type           string
	Priority       domain.Priority
	RequestedUnits int
	Unique         bool
	Payload        []byte
	IdempotencyKey string
	Tags           []string
	MaxRuntimeS    *int
}

// Submit enqueues a new job, or returns the existing one when the
// idempotency key is already live.
func (e *Engine) Submit(in SubmitInput) (domain.Job, error) {
	if in.RequestedUnits < 1 || in.RequestedUnits > 100 {
		return domain.Job{}, fmt.Errorf("requested_units %d out of range [1,100]: %w", in.RequestedUnits, domain.ErrInvalidArguments)
	}
	if in.RequestedUnits > e.opts.TotalCapacityUnits {
		return domain.Job{}, fmt.Errorf("requested_units %d exceeds total capacity %d: %w", in.RequestedUnits, e.opts.TotalCapacityUnits, domain.ErrInvalidArguments)
	}
	priority, ok := domain.ParsePriority(string(in.Priority))
	if !ok {
		return domain.Job{}, fmt.Errorf("priority %q: %w", in.Priority, domain.ErrInvalidArguments)
	}
	in.Priority = priority

	e.mu.Lock()
	defer e.mu.Unlock()

	if in.IdempotencyKey != "" {
		if existing, ok := e.store.JobByIdempotencyKey(in.IdempotencyKey); ok {
			return *existing, nil
		}
	}

	now := e.clk.Now()
	job := &domain.Job{
		JobID:          clock.NewID(),
		AddonID:        in.AddonID,
		Type:           in.Type,
		Priority:       in.Priority,
		RequestedUnits: in.RequestedUnits,
		Unique:         in.Unique,
		IdempotencyKey: in.IdempotencyKey,
		State:          domain.StateQueued,
		Payload:        in.Payload,
		Tags:           in.Tags,
		MaxRuntimeS:    in.MaxRuntimeS,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	e.store.AddJob(job)
	e.store.Enqueue(job)

	e.rec.RecordEvent(AuditEvent{
		TS: now, EntityKind: "job", EntityID: job.JobID, Type: EventJobSubmitted,
		Data: map[string]any{"addon_id": job.AddonID, "type": job.Type, "priority": string(job.Priority), "requested_units": job.RequestedUnits},
	})
	metrics.JobsSubmittedTotal.WithLabelValues(string(job.Priority)).Inc()
	return *job, nil
}

// Grant is a successful lease request.
type Grant struct {
	Lease domain.Lease
	Job   domain.Job
}

// Denial is an expected admission outcome, not an error.
type Denial struct {
	Reason       string
	RetryAfterMS int
}

// LeaseRequest is the pull primitive: a worker asks for the next job it
// may run, bounded by current usable capacity.
func (e *Engine) LeaseRequest(workerID string, maxUnits *int) (*Grant, *Denial) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clk.Now()
	e.expireLocked(now)

	busy := e.busyRating()
	usable := UsableCapacity(busy, e.opts.TotalCapacityUnits, e.opts.ReserveUnits)
	leased := e.store.LeasedUnits()
	available := usable - leased

	if available <= 0 {
		metrics.LeaseDenialsTotal.WithLabelValues("no_capacity").Inc()
		return nil, &Denial{
			Reason:       fmt.Sprintf("no_capacity: busy=%d usable=%d leased=%d", busy, usable, leased),
			RetryAfterMS: int(RetryAfter(e.opts.RetryBase, busy).Milliseconds()),
		}
	}

	limit := available
	if maxUnits != nil && *maxUnits < limit {
		limit = *maxUnits
	}

	unitSkipped := false
	for _, p := range domain.PriorityOrder {
		job, ok := e.store.PeekHead(p)
		if !ok {
			continue
		}
		// A skipped candidate stays at the head of its class.
		if job.RequestedUnits > limit {
			unitSkipped = true
			continue
		}
		if job.Unique && e.store.WorkerLeaseCount(workerID) > 0 {
			continue
		}
		if e.store.WorkerHoldsUnique(workerID) {
			continue
		}

		e.store.DequeueHead(p)

		lease := &domain.Lease{
			LeaseID:       clock.NewID(),
			JobID:         job.JobID,
			WorkerID:      workerID,
			CapacityUnits: job.RequestedUnits,
			IssuedAt:      now,
			ExpiresAt:     now.Add(e.opts.LeaseTTL + e.opts.HeartbeatGrace),
			LastHeartbeat: now,
		}
		job.State = domain.StateLeased
		job.LeaseID = lease.LeaseID
		leasedAt := now
		job.LeasedAt = &leasedAt
		job.UpdatedAt = now

		e.store.AddLease(lease)

		e.rec.RecordJob(*job, workerID)
		e.rec.RecordEvent(AuditEvent{
			TS: now, EntityKind: "lease", EntityID: lease.LeaseID, Type: EventLeaseGranted,
			Data: map[string]any{"job_id": job.JobID, "worker_id": workerID, "capacity_units": lease.CapacityUnits},
		})
		metrics.LeasesGrantedTotal.Inc()
		metrics.LeasedUnits.Set(float64(e.store.LeasedUnits()))
		return &Grant{Lease: *lease, Job: *job}, nil
	}

	// When a candidate was passed over for units, back off with the
	// pressure-scaled delay; an empty queue just retries quickly.
	retryBusy := 0
	if unitSkipped {
		retryBusy = busy
	}
	metrics.LeaseDenialsTotal.WithLabelValues("no_eligible_jobs").Inc()
	return nil, &Denial{
		Reason:       "no_eligible_jobs",
		RetryAfterMS: int(RetryAfter(e.opts.RetryBase, retryBusy).Milliseconds()),
	}
}

// Heartbeat extends a lease. The first heartbeat on a leased job marks it
// running.
func (e *Engine) Heartbeat(leaseID, workerID string) (time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lease, ok := e.store.Lease(leaseID)
	if !ok {
		return time.Time{}, domain.ErrLeaseNotFound
	}
	if lease.WorkerID != workerID {
		return time.Time{}, domain.ErrWorkerMismatch
	}

	now := e.clk.Now()
	if !lease.ExpiresAt.After(now) {
		return time.Time{}, domain.ErrLeaseInactive
	}

	lease.LastHeartbeat = now
	lease.ExpiresAt = now.Add(e.opts.LeaseTTL + e.opts.HeartbeatGrace)

	if job, ok := e.store.Job(lease.JobID); ok {
		if job.State == domain.StateLeased {
			job.State = domain.StateRunning
			startedAt := now
			job.StartedAt = &startedAt
			job.UpdatedAt = now
			e.rec.RecordJob(*job, workerID)
		}
	}
	return lease.ExpiresAt, nil
}

// Complete finalizes a job. Unknown leases return nil: a late
// reconfirmation after expiry or a retried call is not an error.
func (e *Engine) Complete(leaseID, workerID string, status domain.JobState, result []byte, errMsg string) error {
	if status != domain.StateCompleted && status != domain.StateFailed {
		return fmt.Errorf("status %q: %w", status, domain.ErrInvalidArguments)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	lease, ok := e.store.Lease(leaseID)
	if !ok {
		return nil
	}
	if lease.WorkerID != workerID {
		return domain.ErrWorkerMismatch
	}

	now := e.clk.Now()
	// Remove the lease first, then mutate the job.
	e.store.RemoveLease(leaseID)

	if job, ok := e.store.Job(lease.JobID); ok {
		job.State = status
		job.LeaseID = ""
		job.Result = result
		job.Error = errMsg
		finishedAt := now
		job.FinishedAt = &finishedAt
		job.UpdatedAt = now

		e.rec.RecordJob(*job, workerID)
		metrics.JobsFinishedTotal.WithLabelValues(string(status)).Inc()
	}

	e.rec.RecordEvent(AuditEvent{
		TS: now, EntityKind: "lease", EntityID: leaseID, Type: EventLeaseReleased,
		Data: map[string]any{"job_id": lease.JobID, "worker_id": workerID, "status": string(status)},
	})
	metrics.LeasedUnits.Set(float64(e.store.LeasedUnits()))
	return nil
}

// Cancel removes a queued job. Jobs past queued cannot be cancelled.
func (e *Engine) Cancel(jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, ok := e.store.Job(jobID)
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.State != domain.StateQueued {
		return domain.ErrJobNotQueued
	}

	e.store.RemoveQueued(job)
	e.store.DeleteJob(jobID)

	e.rec.RecordEvent(AuditEvent{
		TS: e.clk.Now(), EntityKind: "job", EntityID: jobID, Type: EventJobCancelled,
		Data: map[string]any{"addon_id": job.AddonID, "type": job.Type},
	})
	return nil
}

// Job returns a copy of a job by id.
func (e *Engine) Job(jobID string) (domain.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, ok := e.store.Job(jobID)
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return *job, nil
}

// ListJobs returns copies of jobs, newest first.
func (e *Engine) ListJobs(state domain.JobState, limit int) []domain.Job {
	e.mu.Lock()
	defer e.mu.Unlock()

	jobs := e.store.ListJobs(state, limit)
	out := make([]domain.Job, len(jobs))
	for i, j := range jobs {
		out[i] = *j
	}
	return out
}

// Status is the scheduler's public snapshot.
type Status struct {
	BusyRating             int            `json:"busy_rating"`
	TotalCapacityUnits     int            `json:"total_capacity_units"`
	UsableCapacityUnits    int            `json:"usable_capacity_units"`
	LeasedCapacityUnits    int            `json:"leased_capacity_units"`
	AvailableCapacityUnits int            `json:"available_capacity_units"`
	QueueDepths            map[string]int `json:"queue_depths"`
	ActiveLeases           int            `json:"active_leases"`
}

func (e *Engine) Snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	busy := e.busyRating()
	usable := UsableCapacity(busy, e.opts.TotalCapacityUnits, e.opts.ReserveUnits)
	leased := e.store.LeasedUnits()
	available := usable - leased
	if available < 0 {
		available = 0
	}

	depths := e.store.QueueDepths()
	for p, n := range depths {
		metrics.QueueDepth.WithLabelValues(p).Set(float64(n))
	}
	metrics.ActiveLeases.Set(float64(e.store.LeaseCount()))

	return Status{
		BusyRating:             busy,
		TotalCapacityUnits:     e.opts.TotalCapacityUnits,
		UsableCapacityUnits:    usable,
		LeasedCapacityUnits:    leased,
		AvailableCapacityUnits: available,
		QueueDepths:            depths,
		ActiveLeases:           e.store.LeaseCount(),
	}
}

// ExpireTick runs one expiry pass. Returns the number of leases expired.
func (e *Engine) ExpireTick() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expireLocked(e.clk.Now())
}

// EvictTick drops aged terminal jobs from memory.
func (e *Engine) EvictTick() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.EvictTerminal(e.clk.Now(), e.opts.TerminalRetention, e.opts.TerminalCap)
}

// expireLocked expires leases past expires_at and jobs past their
// max_runtime_s. Caller holds the mutex.
func (e *Engine) expireLocked(now time.Time) int {
	expired := 0
	for _, lease := range e.store.Leases() {
		timedOut := !lease.ExpiresAt.After(now)
		if !timedOut {
			if job, ok := e.store.Job(lease.JobID); ok && job.MaxRuntimeS != nil {
				deadline := lease.IssuedAt.Add(time.Duration(*job.MaxRuntimeS) * time.Second)
				timedOut = !deadline.After(now)
			}
		}
		if !timedOut {
			continue
		}

		e.store.RemoveLease(lease.LeaseID)
		if job, ok := e.store.Job(lease.JobID); ok && (job.State == domain.StateLeased || job.State == domain.StateRunning) {
			job.State = domain.StateExpired
			job.LeaseID = ""
			finishedAt := now
			job.FinishedAt = &finishedAt
			job.UpdatedAt = now
			e.rec.RecordJob(*job, lease.WorkerID)
			metrics.JobsFinishedTotal.WithLabelValues(string(domain.StateExpired)).Inc()
		}
		e.rec.RecordEvent(AuditEvent{
			TS: now, EntityKind: "lease", EntityID: lease.LeaseID, Type: EventLeaseExpired,
			Data: map[string]any{"job_id": lease.JobID, "worker_id": lease.WorkerID},
		})
		metrics.LeasesExpiredTotal.Inc()
		expired++
	}
	if expired > 0 {
		metrics.LeasedUnits.Set(float64(e.store.LeasedUnits()))
	}
	return expired
}
