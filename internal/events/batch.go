package events

import (
	"context"
	"time"
)

// BatchStart is emitted before one collaborator call of a resolution level.
// ID is unique per process and is also stored in the call's context.
type BatchStart struct {
	ID           uint64
	Collaborator string
	Level        int
	Keys         int
	// Remote marks a direct, non-batched call.
	Remote bool
}

// BatchFinish is emitted after the call settled its handles.
type BatchFinish struct {
	ID           uint64
	Collaborator string
	Level        int
	Keys         int
	Remote       bool
	Err          error
	Duration     time.Duration
}

type batchKey struct{}

// WithBatchID returns a copy of ctx carrying the id of the batch call it
// belongs to.
func WithBatchID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, batchKey{}, id)
}

// BatchIDFromContext returns the batch call id stored by WithBatchID.
func BatchIDFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(batchKey{}).(uint64)
	return id, ok
}
