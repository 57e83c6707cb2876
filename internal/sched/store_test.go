package sched_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/synthiacore/synthia/internal/domain"
	"github.com/synthiacore/synthia/internal/sched"
)

func terminalJob(id string, at time.Time) *domain.Job {
	return &domain.Job{
		JobID:     id,
		Priority:  domain.PriorityNormal,
		State:     domain.StateCompleted,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestStore_EvictTerminalByCap(t *testing.T) {
	s := sched.NewStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		s.AddJob(terminalJob(fmt.Sprintf("job-%02d", i), base.Add(time.Duration(i)*time.Second)))
	}

	// All are fresh, but only 4 may remain: the 6 oldest go.
	evicted := s.EvictTerminal(base.Add(time.Minute), time.Hour, 4)
	if evicted != 6 {
		t.Fatalf("expected 6 evictions, got %d", evicted)
	}
	if _, ok := s.Job("job-00"); ok {
		t.Fatal("oldest job should be gone")
	}
	if _, ok := s.Job("job-09"); !ok {
		t.Fatal("newest job should remain")
	}
}

func TestStore_EvictTerminalKeepsActiveJobs(t *testing.T) {
	s := sched.NewStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	active := &domain.Job{JobID: "active", Priority: domain.PriorityNormal, State: domain.StateRunning, CreatedAt: base, UpdatedAt: base}
	s.AddJob(active)
	s.AddJob(terminalJob("done", base))

	evicted := s.EvictTerminal(base.Add(2*time.Hour), time.Hour, 5000)
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if _, ok := s.Job("active"); !ok {
		t.Fatal("running job must never be evicted")
	}
}

func TestStore_QueueDepthsSkipStaleEntries(t *testing.T) {
	s := sched.NewStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	j := &domain.Job{JobID: "j1", Priority: domain.PriorityHigh, State: domain.StateQueued, CreatedAt: base, UpdatedAt: base}
	s.AddJob(j)
	s.Enqueue(j)

	if got := s.QueueDepths()["high"]; got != 1 {
		t.Fatalf("depth %d, want 1", got)
	}

	// A queue entry whose job has moved on no longer counts.
	j.State = domain.StateLeased
	if got := s.QueueDepths()["high"]; got != 0 {
		t.Fatalf("depth %d, want 0", got)
	}
}

func TestStore_RequeueFrontPreservesOrder(t *testing.T) {
	s := sched.NewStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first := &domain.Job{JobID: "first", Priority: domain.PriorityNormal, State: domain.StateQueued, CreatedAt: base, UpdatedAt: base}
	second := &domain.Job{JobID: "second", Priority: domain.PriorityNormal, State: domain.StateQueued, CreatedAt: base.Add(time.Second), UpdatedAt: base}
	s.AddJob(first)
	s.AddJob(second)
	s.Enqueue(first)
	s.Enqueue(second)

	head, ok := s.PeekHead(domain.PriorityNormal)
	if !ok || head.JobID != "first" {
		t.Fatalf("expected first at head, got %+v", head)
	}
	s.DequeueHead(domain.PriorityNormal)
	s.RequeueFront(first)

	head, ok = s.PeekHead(domain.PriorityNormal)
	if !ok || head.JobID != "first" {
		t.Fatalf("requeued job must lead the class, got %+v", head)
	}
}
