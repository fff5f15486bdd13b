package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/batchgraph/internal/eventbus"
	"github.com/hanpama/batchgraph/internal/events"
	"github.com/hanpama/batchgraph/internal/invoker"
	"github.com/hanpama/batchgraph/internal/reqid"
)

// blocking answers only when the call's context ends.
func blocking() invoker.Invoker {
	return invoker.Func(func(ctx context.Context, req invoker.Request) (map[invoker.Key]invoker.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func TestTimeout_BatchTimeoutNullsOnlyThatCollaborator(t *testing.T) {
	sch := mustBuildSchema(t, catalogSDL)
	exec := mustNewExecutor(t, sch, nil, invoker.Set{
		"catalog":         catalogInvoker("p1", "p2", "p3", "p4", "p5"),
		"reviews":         blocking(),
		"recommendations": &invoker.Static{},
	}, WithBatchTimeout(20*time.Millisecond))

	result := run(t, exec, `{ products(ids: ["p1", "p2", "p3", "p4", "p5"]) { name reviews { rating } } }`, nil)

	products := make([]any, 5)
	var errs []GraphQLError
	for i := range products {
		products[i] = map[string]any{"name": fmt.Sprintf("Product p%d", i+1), "reviews": nil}
		errs = append(errs, gqlError(KindTimeout, `collaborator "reviews" timed out`, "products", i, "reviews"))
	}

	// Pattern: Result comparison
	expected := &ExecutionResult{
		Data:   map[string]any{"products": products},
		Errors: errs,
	}
	if diff := cmp.Diff(expected, result); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestTimeout_RequestDeadlinePassedSkipsCollaborators(t *testing.T) {
	sch := mustBuildSchema(t, catalogSDL)
	catalog := catalogInvoker("p1")
	exec := mustNewExecutor(t, sch, nil, invoker.Set{"catalog": catalog, "reviews": &invoker.Static{}, "recommendations": &invoker.Static{}})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	result := runContext(t, ctx, exec, `{ product(id: "p1") { name } }`, nil)

	// Pattern: Result comparison
	expected := &ExecutionResult{
		Data: map[string]any{"product": nil},
		Errors: []GraphQLError{
			gqlError(KindTimeout, `collaborator "catalog" timed out`, "product"),
		},
	}
	if diff := cmp.Diff(expected, result); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
	require.Empty(t, catalog.Requests())
}

func TestTimeout_RequestDeadlineDuringFlush(t *testing.T) {
	sch := mustBuildSchema(t, catalogSDL)
	exec := mustNewExecutor(t, sch, nil, invoker.Set{
		"catalog":         catalogInvoker("p1"),
		"reviews":         blocking(),
		"recommendations": &invoker.Static{},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	result := runContext(t, ctx, exec, `{ product(id: "p1") { name reviews { rating } } }`, nil)

	// Pattern: Result comparison
	expected := &ExecutionResult{
		Data: map[string]any{
			"product": map[string]any{"name": "Product p1", "reviews": nil},
		},
		Errors: []GraphQLError{
			gqlError(KindTimeout, `collaborator "reviews" timed out`, "product", "reviews"),
		},
	}
	if diff := cmp.Diff(expected, result); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestTimeout_CancelledRequestIsAborted(t *testing.T) {
	sch := mustBuildSchema(t, catalogSDL)

	t.Run("before execution", func(t *testing.T) {
		catalog := catalogInvoker("p1")
		exec := mustNewExecutor(t, sch, nil, invoker.Set{"catalog": catalog, "reviews": &invoker.Static{}, "recommendations": &invoker.Static{}})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := exec.ExecuteRequest(ctx, mustParseQuery(t, `{ product(id: "p1") { name } }`), "", nil, nil)
		require.ErrorIs(t, err, ErrRequestAborted)
		require.Nil(t, result)
		require.Empty(t, catalog.Requests())
	})

	t.Run("during a flush", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		catalog := invoker.Func(func(_ context.Context, req invoker.Request) (map[invoker.Key]invoker.Result, error) {
			cancel()
			return nil, context.Canceled
		})
		reviews := &invoker.Static{}
		exec := mustNewExecutor(t, sch, nil, invoker.Set{"catalog": catalog, "reviews": reviews, "recommendations": &invoker.Static{}})

		result, err := exec.ExecuteRequest(ctx, mustParseQuery(t, `{ product(id: "p1") { reviews { rating } } }`), "", nil, nil)
		require.ErrorIs(t, err, ErrRequestAborted)
		require.Nil(t, result)
		require.Empty(t, reviews.Requests())
	})
}

func TestTimeout_BatchEventsCarryTraceID(t *testing.T) {
	bus := eventbus.New()
	eventbus.Use(bus)
	defer eventbus.Use(nil)

	var mu sync.Mutex
	var finished []events.BatchFinish
	defer eventbus.Subscribe[events.BatchFinish](func(ctx context.Context, e events.BatchFinish) {
		mu.Lock()
		defer mu.Unlock()
		finished = append(finished, e)
	})()

	sch := mustBuildSchema(t, catalogSDL)
	catalog := catalogInvoker("p1", "p2")
	reviews := reviewsInvoker()
	exec := mustNewExecutor(t, sch, nil, invoker.Set{"catalog": catalog, "reviews": reviews, "recommendations": &invoker.Static{}})

	ctx, id := reqid.NewContext(context.Background())
	res, err := exec.ExecuteRequest(ctx, mustParseQuery(t, `{ products(ids: ["p1", "p2"]) { reviews { rating } } }`), "", nil, nil)
	require.NoError(t, err)
	require.Empty(t, res.Errors)

	traceID := reqid.Format(id)
	require.Equal(t, traceID, catalog.Requests()[0].TraceID)
	require.Equal(t, traceID, reviews.Requests()[0].TraceID)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, finished, 2)
	require.Equal(t, "catalog", finished[0].Collaborator)
	require.Equal(t, 1, finished[0].Level)
	require.Equal(t, 2, finished[0].Keys)
	require.Equal(t, "reviews", finished[1].Collaborator)
	require.Equal(t, 2, finished[1].Level)
	require.NoError(t, finished[1].Err)
}

// stalled answers from inner only after release is closed and never watches
// the call's context.
type stalled struct {
	release chan struct{}
	inner   invoker.Invoker
}

func newStalled(t *testing.T, inner invoker.Invoker) *stalled {
	s := &stalled{release: make(chan struct{}), inner: inner}
	t.Cleanup(func() { close(s.release) })
	return s
}

func (s *stalled) Fetch(_ context.Context, req invoker.Request) (map[invoker.Key]invoker.Result, error) {
	<-s.release
	return s.inner.Fetch(context.Background(), req)
}

func TestTimeout_InvokerIgnoringContextIsAbandoned(t *testing.T) {
	sch := mustBuildSchema(t, catalogSDL)
	query := `{ products(ids: ["p1", "p2"]) { name reviews { rating } } }`

	// Pattern: Result comparison
	expected := &ExecutionResult{
		Data: map[string]any{"products": []any{
			map[string]any{"name": "Product p1", "reviews": nil},
			map[string]any{"name": "Product p2", "reviews": nil},
		}},
		Errors: []GraphQLError{
			gqlError(KindTimeout, `collaborator "reviews" timed out`, "products", 0, "reviews"),
			gqlError(KindTimeout, `collaborator "reviews" timed out`, "products", 1, "reviews"),
		},
	}

	t.Run("batch timeout", func(t *testing.T) {
		exec := mustNewExecutor(t, sch, nil, invoker.Set{
			"catalog":         catalogInvoker("p1", "p2"),
			"reviews":         newStalled(t, reviewsInvoker()),
			"recommendations": &invoker.Static{},
		}, WithBatchTimeout(20*time.Millisecond))

		start := time.Now()
		result := run(t, exec, query, nil)
		require.Less(t, time.Since(start), time.Second)
		if diff := cmp.Diff(expected, result); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("request deadline", func(t *testing.T) {
		exec := mustNewExecutor(t, sch, nil, invoker.Set{
			"catalog":         catalogInvoker("p1", "p2"),
			"reviews":         newStalled(t, reviewsInvoker()),
			"recommendations": &invoker.Static{},
		})

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		start := time.Now()
		result := runContext(t, ctx, exec, query, nil)
		require.Less(t, time.Since(start), time.Second)
		if diff := cmp.Diff(expected, result); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("remote call", func(t *testing.T) {
		msch := mustBuildSchema(t, mutationSDL)
		exec := mustNewExecutor(t, msch, nil, invoker.Set{
			"catalog": catalogInvoker("p1"),
			"reviews": newStalled(t, reviewWriter()),
		}, WithBatchTimeout(20*time.Millisecond))

		start := time.Now()
		result := run(t, exec, `mutation { addReview(productId: "p1", rating: 5) { id } }`, nil)
		require.Less(t, time.Since(start), time.Second)

		// Pattern: Result comparison
		want := &ExecutionResult{
			Data: map[string]any{"addReview": nil},
			Errors: []GraphQLError{
				gqlError(KindTimeout, `collaborator "reviews" timed out`, "addReview"),
			},
		}
		if diff := cmp.Diff(want, result); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
	})
}
