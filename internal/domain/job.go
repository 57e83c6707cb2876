package domain

import (
	"encoding/json"
	"time"
)

type JobState string

const (
	StateQueued    JobState = "queued"
	StateLeased    JobState = "leased"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateExpired   JobState = "expired"
)

// Terminal reports whether no further transition is possible.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateExpired:
		return true
	}
	return false
}

type Priority string

const (
	PriorityHigh       Priority = "high"
	PriorityNormal     Priority = "normal"
	PriorityLow        Priority = "low"
	PriorityBackground Priority = "background"
)

// PriorityOrder is the fixed dispatch order.
var PriorityOrder = []Priority{PriorityHigh, PriorityNormal, PriorityLow, PriorityBackground}

func ParsePriority(s string) (Priority, bool) {
	switch Priority(s) {
	case PriorityHigh, PriorityNormal, PriorityLow, PriorityBackground:
		return Priority(s), true
	case "":
		return PriorityNormal, true
	}
	return "", false
}

// Job is a unit of intended work. The scheduler owns it; callers hold
// only its ID.
type Job struct {
	JobID          string          `json:"job_id"`
	AddonID        string          `json:"addon_id"`
	Type           string          `json:"type"`
	Priority       Priority        `json:"priority"`
	RequestedUnits int             `json:"requested_units"`
	Unique         bool            `json:"unique"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	State          JobState        `json:"state"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	MaxRuntimeS    *int            `json:"max_runtime_s,omitempty"`

	LeaseID string `json:"lease_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	// Lifecycle marks, filled as the job moves through the machine.
	LeasedAt   *time.Time `json:"leased_at,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Lease is a time-bounded permission to execute exactly one job.
type Lease struct {
	LeaseID       string    `json:"lease_id"`
	JobID         string    `json:"job_id"`
	WorkerID      string    `json:"worker_id"`
	CapacityUnits int       `json:"capacity_units"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}
