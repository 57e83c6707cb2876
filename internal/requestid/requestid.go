// Package requestid carries request-scoped identity (request ID, worker
// ID) through context so log records can be correlated per request and
// per worker.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

type workerKey struct{}

// New generates a random UUID v4 request ID.
func New() string {
	return uuid.NewString()
}

// WithRequestID returns a copy of ctx with the request ID attached.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from ctx. Returns "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// WithWorkerID tags ctx with the worker driving this request, so lease
// operations log which worker they acted for.
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, workerKey{}, workerID)
}

// WorkerIDFromContext extracts the worker ID from ctx. Returns "" if
// absent.
func WorkerIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(workerKey{}).(string)
	return id
}
