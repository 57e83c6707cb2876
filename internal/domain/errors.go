package domain

import "errors"

var (
	ErrInvalidArguments    = errors.New("invalid_arguments")
	ErrIdempotencyConflict = errors.New("idempotency_conflict")
	ErrJobNotFound         = errors.New("job_not_found")
	ErrJobNotQueued        = errors.New("job_not_queued")
	ErrLeaseNotFound       = errors.New("lease_not_found")
	ErrWorkerMismatch      = errors.New("worker_mismatch")
	ErrLeaseInactive       = errors.New("lease_inactive")
	ErrStorage             = errors.New("storage_error")
)
