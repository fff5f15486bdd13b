package grpctp

import (
	"context"
	"sort"
	"sync"
)

// EndpointProvider lists reachable endpoints (host:port) for a collaborator
// id. Implementations may integrate with service discovery and must be safe
// for concurrent use.
type EndpointProvider interface {
	Endpoints(ctx context.Context, collaborator string) ([]string, error)
}

// StaticEndpoints is a provider backed by an in-memory map from collaborator
// id to endpoints.
type StaticEndpoints struct {
	mu   sync.RWMutex
	data map[string][]string
}

func NewStaticEndpoints(m map[string][]string) *StaticEndpoints {
	cp := make(map[string][]string, len(m))
	for k, v := range m {
		cp[k] = append([]string(nil), v...)
	}
	return &StaticEndpoints{data: cp}
}

func (s *StaticEndpoints) Endpoints(_ context.Context, collaborator string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.data[collaborator]
	if len(arr) == 0 {
		return nil, ErrNoEndpoints
	}
	return append([]string(nil), arr...), nil
}

// Set replaces the endpoints of one collaborator.
func (s *StaticEndpoints) Set(collaborator string, endpoints []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[collaborator] = append([]string(nil), endpoints...)
}

// Collaborators lists the ids that have endpoints.
func (s *StaticEndpoints) Collaborators() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for k, v := range s.data {
		if len(v) > 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
