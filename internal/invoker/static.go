package invoker

import (
	"context"
	"sync"
)

// Static answers from a fixed map keyed by operation and id, ignoring
// arguments unless an exact Key entry exists. It records every request so
// tests can assert on call shapes.
type Static struct {
	// Values are looked up by exact key first, then by Key{Operation, ID}.
	Values map[Key]any
	// Errors fail individual keys, looked up the same way as Values.
	Errors map[Key]error
	// Err, when set, fails the whole call.
	Err error

	mu       sync.Mutex
	requests []Request
}

func (s *Static) Fetch(ctx context.Context, req Request) (map[Key]Result, error) {
	s.mu.Lock()
	s.requests = append(s.requests, Request{Collaborator: req.Collaborator, Keys: append([]Key(nil), req.Keys...), TraceID: req.TraceID})
	s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[Key]Result, len(req.Keys))
	for _, k := range req.Keys {
		if err, ok := lookup(s.Errors, k); ok {
			out[k] = Result{Err: err}
			continue
		}
		if v, ok := lookup(s.Values, k); ok {
			out[k] = Result{Value: v}
		}
	}
	return out, nil
}

// Requests returns a copy of the requests seen so far.
func (s *Static) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func lookup[V any](m map[Key]V, k Key) (V, bool) {
	if v, ok := m[k]; ok {
		return v, true
	}
	v, ok := m[Key{Operation: k.Operation, ID: k.ID}]
	return v, ok
}
