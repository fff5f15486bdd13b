package executor

import (
	"context"
	"fmt"
	"sync"
)

// MockResolver resolves a single local field in tests.
type MockResolver = Resolver

// NewMockValueResolver returns a MockResolver that always returns the provided value.
func NewMockValueResolver(val any) MockResolver {
	return func(ctx context.Context, source any, args map[string]any) (any, error) {
		return val, nil
	}
}

// NewMockErrorResolver returns a MockResolver that always returns the provided error.
func NewMockErrorResolver(err error) MockResolver {
	return func(ctx context.Context, source any, args map[string]any) (any, error) {
		return nil, err
	}
}

// Call records one ResolveLocal invocation.
type Call struct {
	ObjectType string
	Field      string
	Source     any
	Args       map[string]any
}

// MockRuntime resolves fields from explicit resolvers first and falls back to
// reading map sources, recording every local call.
type MockRuntime struct {
	mu    sync.Mutex
	base  SourceRuntime
	calls []Call

	typeResolver func(value any) (string, error)
	serializer   func(typeName string, val any) (any, error)
}

// NewMockRuntime creates a MockRuntime with the provided resolvers.
// The resolvers map keys are of the form "ObjectType.Field".
func NewMockRuntime(resolvers map[string]MockResolver) *MockRuntime {
	m := &MockRuntime{base: SourceRuntime{Resolvers: map[string]Resolver{}}}
	for k, v := range resolvers {
		m.base.Resolvers[k] = v
	}
	return m
}

// SetResolver registers or updates a resolver for the given object type and field.
func (m *MockRuntime) SetResolver(objectType, field string, resolver MockResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base.Resolvers[objectType+"."+field] = resolver
}

func (m *MockRuntime) SetTypeResolver(f func(value any) (string, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typeResolver = f
}

func (m *MockRuntime) SetSerializer(f func(typeName string, val any) (any, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serializer = f
}

func (m *MockRuntime) ResolveLocal(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{ObjectType: objectType, Field: field, Source: source, Args: args})
	fn := m.base.Resolvers[objectType+"."+field]
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, source, args)
	}
	if src, ok := source.(map[string]any); ok {
		return src[field], nil
	}
	if source == nil {
		return nil, nil
	}
	return nil, fmt.Errorf("no resolver for %s.%s", objectType, field)
}

func (m *MockRuntime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	m.mu.Lock()
	f := m.typeResolver
	m.mu.Unlock()
	if f != nil {
		return f(value)
	}
	return m.base.ResolveType(ctx, abstractType, value)
}

func (m *MockRuntime) SerializeLeafValue(ctx context.Context, typeName string, value any) (any, error) {
	m.mu.Lock()
	f := m.serializer
	m.mu.Unlock()
	if f != nil {
		return f(typeName, value)
	}
	return value, nil
}

// GetCalls returns a copy of the recorded calls in order.
func (m *MockRuntime) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset clears recorded calls (resolvers remain).
func (m *MockRuntime) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
