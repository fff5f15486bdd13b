// Package reqid assigns each GraphQL request an id that follows it into logs,
// spans and collaborator calls.
package reqid

import (
	"context"
	"math"
	"math/rand/v2"
	"strconv"
)

type key struct{}

// NewContext returns a copy of parent carrying a fresh, non-zero request id.
func NewContext(parent context.Context) (context.Context, int64) {
	id := rand.Int64N(math.MaxInt64) + 1
	return context.WithValue(parent, key{}, id), id
}

// FromContext returns the request id of ctx, if any.
func FromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(key{}).(int64)
	return id, ok
}

// Format renders id the way it travels to collaborators.
func Format(id int64) string { return strconv.FormatInt(id, 10) }

// String returns the formatted request id of ctx, or "" when there is none.
func String(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return Format(id)
	}
	return ""
}
