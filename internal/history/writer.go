package history

import (
	"context"
	"log/slog"

	"github.com/synthiacore/synthia/internal/domain"
	"github.com/synthiacore/synthia/internal/metrics"
	"github.com/synthiacore/synthia/internal/sched"
)

type record struct {
	job   *JobRow
	event *EventRow
}

// Writer decouples the scheduler's critical section from disk: the
// engine enqueues records without blocking and a single goroutine writes
// them. When the queue is full the record is dropped and counted; the
// in-memory store stays authoritative for live state.
type Writer struct {
	store  *Store
	logger *slog.Logger
	ch     chan record
}

func NewWriter(store *Store, logger *slog.Logger, buffer int) *Writer {
	return &Writer{
		store:  store,
		logger: logger.With("component", "history_writer"),
		ch:     make(chan record, buffer),
	}
}

// RecordJob implements sched.Recorder. Never blocks.
func (w *Writer) RecordJob(job domain.Job, workerID string) {
	row := rowFromJob(job, workerID)
	select {
	case w.ch <- record{job: &row}:
	default:
		metrics.HistoryDroppedTotal.Inc()
	}
}

// RecordEvent implements sched.Recorder. Never blocks.
func (w *Writer) RecordEvent(ev sched.AuditEvent) {
	row := EventRow{
		TS:         ev.TS,
		EntityKind: ev.EntityKind,
		EntityID:   ev.EntityID,
		Type:       ev.Type,
		Data:       ev.Data,
	}
	select {
	case w.ch <- record{event: &row}:
	default:
		metrics.HistoryDroppedTotal.Inc()
	}
}

// Run drains the queue until ctx is cancelled, then flushes whatever is
// still buffered before returning.
func (w *Writer) Run(ctx context.Context) {
	w.logger.Info("history writer started", "buffer", cap(w.ch))
	for {
		select {
		case <-ctx.Done():
			w.flush()
			w.logger.Info("history writer shut down")
			return
		case r := <-w.ch:
			w.write(r)
		}
	}
}

func (w *Writer) flush() {
	for {
		select {
		case r := <-w.ch:
			w.write(r)
		default:
			return
		}
	}
}

func (w *Writer) write(r record) {
	var err error
	switch {
	case r.job != nil:
		err = w.store.UpsertJob(*r.job)
	case r.event != nil:
		err = w.store.AppendEvent(*r.event)
	}
	if err != nil {
		// The scheduler keeps going; the write is lost but counted.
		w.logger.Error("history write failed", "error", err)
		metrics.HistoryWritesTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.HistoryWritesTotal.WithLabelValues("ok").Inc()
}

func rowFromJob(job domain.Job, workerID string) JobRow {
	row := JobRow{
		JobID:          job.JobID,
		AddonID:        job.AddonID,
		Type:           job.Type,
		Priority:       string(job.Priority),
		RequestedUnits: job.RequestedUnits,
		Unique:         job.Unique,
		IdempotencyKey: job.IdempotencyKey,
		State:          string(job.State),
		WorkerID:       workerID,
		LeaseID:        job.LeaseID,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
		LeasedAt:       job.LeasedAt,
		StartedAt:      job.StartedAt,
		FinishedAt:     job.FinishedAt,
		Error:          job.Error,
		Result:         job.Result,
	}
	if job.LeasedAt != nil {
		wait := job.LeasedAt.Sub(job.CreatedAt).Seconds()
		row.QueueWaitS = &wait
	}
	if job.LeasedAt != nil && job.FinishedAt != nil {
		runtime := job.FinishedAt.Sub(*job.LeasedAt).Seconds()
		row.RuntimeS = &runtime
	}
	return row
}
