package batch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hanpama/batchgraph/internal/invoker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func key(op, id string) invoker.Key { return invoker.Key{Operation: op, ID: id} }

func TestRegisterIsIdempotent(t *testing.T) {
	b := New("trace")
	h1 := b.Register("reviews", key("reviews", "p1"))
	h2 := b.Register("reviews", key("reviews", "p1"))
	h3 := b.Register("reviews", invoker.Key{Operation: "reviews", ID: "p1", Args: `{"first":2}`})

	require.Same(t, h1, h2)
	require.NotSame(t, h1, h3)
	require.Equal(t, []invoker.Key{key("reviews", "p1"), h3.Key()}, b.PendingKeys("reviews"))
}

func TestFlushSendsOneCallWithOrderedDistinctKeys(t *testing.T) {
	b := New("trace-1")
	inv := &invoker.Static{Values: map[invoker.Key]any{}}
	var handles []*Handle
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("p%d", i)
		inv.Values[key("reviews", id)] = []any{id}
		handles = append(handles, b.Register("reviews", key("reviews", id)))
		b.Register("reviews", key("reviews", id))
	}

	n, err := b.Flush(context.Background(), "reviews", inv)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	reqs := inv.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "trace-1", reqs[0].TraceID)
	require.Equal(t, []invoker.Key{
		key("reviews", "p0"), key("reviews", "p1"), key("reviews", "p2"), key("reviews", "p3"), key("reviews", "p4"),
	}, reqs[0].Keys)

	for i, h := range handles {
		require.True(t, h.Settled())
		v, err := h.Result()
		require.NoError(t, err)
		require.Equal(t, []any{fmt.Sprintf("p%d", i)}, v)
	}
	require.Empty(t, b.Pending())
}

func TestFlushPartialFailure(t *testing.T) {
	b := New("")
	boom := &invoker.KeyError{Code: "BROKEN", Message: "boom"}
	inv := &invoker.Static{
		Values: map[invoker.Key]any{key("p", "1"): "one", key("p", "3"): "three"},
		Errors: map[invoker.Key]error{key("p", "2"): boom},
	}
	h1 := b.Register("catalog", key("p", "1"))
	h2 := b.Register("catalog", key("p", "2"))
	h3 := b.Register("catalog", key("p", "3"))
	h4 := b.Register("catalog", key("p", "4"))

	_, err := b.Flush(context.Background(), "catalog", inv)
	require.NoError(t, err)

	v, err := h1.Result()
	require.NoError(t, err)
	require.Equal(t, "one", v)

	_, err = h2.Result()
	require.ErrorIs(t, err, boom)

	v, err = h3.Result()
	require.NoError(t, err)
	require.Equal(t, "three", v)

	v, err = h4.Result()
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestFlushCallErrorFailsEveryHandle(t *testing.T) {
	b := New("")
	inv := &invoker.Static{Err: invoker.ErrUnavailable}
	h1 := b.Register("reviews", key("r", "1"))
	h2 := b.Register("reviews", key("r", "2"))

	n, err := b.Flush(context.Background(), "reviews", inv)
	require.ErrorIs(t, err, invoker.ErrUnavailable)
	require.Equal(t, 2, n)
	for _, h := range []*Handle{h1, h2} {
		_, err := h.Result()
		require.ErrorIs(t, err, invoker.ErrUnavailable)
	}
}

func TestSettledKeyIsReusedWithoutRefetch(t *testing.T) {
	b := New("")
	inv := &invoker.Static{Values: map[invoker.Key]any{key("p", "1"): "one"}}
	h := b.Register("catalog", key("p", "1"))
	_, err := b.Flush(context.Background(), "catalog", inv)
	require.NoError(t, err)

	again := b.Register("catalog", key("p", "1"))
	require.Same(t, h, again)
	require.Empty(t, b.Pending())

	n, err := b.Flush(context.Background(), "catalog", inv)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, inv.Requests(), 1)
}

func TestReleasedKeysAreNotSent(t *testing.T) {
	b := New("")
	inv := &invoker.Static{}
	dropped := b.Register("reviews", key("r", "1"))
	kept := b.Register("reviews", key("r", "2"))
	shared := b.Register("reviews", key("r", "3"))
	b.Register("reviews", key("r", "3"))

	b.Release(dropped)
	b.Release(shared)

	_, err := b.Flush(context.Background(), "reviews", inv)
	require.NoError(t, err)
	require.Equal(t, []invoker.Key{key("r", "2"), key("r", "3")}, inv.Requests()[0].Keys)

	_, err = dropped.Result()
	require.ErrorIs(t, err, ErrReleased)
	require.True(t, kept.Settled())
}

func TestFlushWithOnlyReleasedKeysMakesNoCall(t *testing.T) {
	b := New("")
	inv := &invoker.Static{}
	b.Release(b.Register("reviews", key("r", "1")))

	n, err := b.Flush(context.Background(), "reviews", inv)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, inv.Requests())
}

func TestPendingOrder(t *testing.T) {
	b := New("")
	b.Register("reviews", key("r", "1"))
	b.Register("catalog", key("p", "1"))
	b.Register("reviews", key("r", "2"))
	b.Register("recommendations", key("x", "1"))
	require.Equal(t, []string{"reviews", "catalog", "recommendations"}, b.Pending())

	n := b.Fail("catalog", invoker.ErrTimeout)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"reviews", "recommendations"}, b.Pending())
}

func TestConcurrentFlushes(t *testing.T) {
	b := New("")
	collaborators := []string{"catalog", "reviews", "recommendations"}
	var handles []*Handle
	for _, c := range collaborators {
		for i := 0; i < 10; i++ {
			handles = append(handles, b.Register(c, key(c, fmt.Sprint(i))))
		}
	}

	release := make(chan struct{})
	inv := invoker.Func(func(ctx context.Context, req invoker.Request) (map[invoker.Key]invoker.Result, error) {
		<-release
		out := map[invoker.Key]invoker.Result{}
		for _, k := range req.Keys {
			out[k] = invoker.Result{Value: req.Collaborator + ":" + k.ID}
		}
		return out, nil
	})

	pending := b.Pending()
	errs := make([]error, len(pending))
	var wg sync.WaitGroup
	for i, c := range pending {
		wg.Add(1)
		go func(i int, c string) {
			defer wg.Done()
			_, errs[i] = b.Flush(context.Background(), c, inv)
		}(i, c)
	}
	close(release)
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	for _, h := range handles {
		<-h.Done()
		v, err := h.Result()
		require.NoError(t, err)
		require.Equal(t, h.Collaborator()+":"+h.Key().ID, v)
	}
}

func TestHashCollisionFallsBackToEquality(t *testing.T) {
	b := New("")
	h1 := b.Register("c", key("a", "1"))
	// Force a second handle into the same bucket.
	q := b.queues["c"]
	other := &Handle{collaborator: "c", key: key("a", "2"), hash: h1.hash, loaded: make(chan struct{}), refs: 1}
	q.index[h1.hash] = append(q.index[h1.hash], other)

	require.Same(t, h1, b.Register("c", key("a", "1")))
}

func TestFlushAbandonsInvokerIgnoringContext(t *testing.T) {
	b := New("")
	release := make(chan struct{})
	returned := make(chan struct{})
	inv := invoker.Func(func(_ context.Context, req invoker.Request) (map[invoker.Key]invoker.Result, error) {
		defer close(returned)
		<-release
		out := map[invoker.Key]invoker.Result{}
		for _, k := range req.Keys {
			out[k] = invoker.Result{Value: "late"}
		}
		return out, nil
	})
	h1 := b.Register("reviews", key("reviews", "p1"))
	h2 := b.Register("reviews", key("reviews", "p2"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	n, err := b.Flush(ctx, "reviews", inv)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 2, n)

	close(release)
	<-returned
	for _, h := range []*Handle{h1, h2} {
		v, err := h.Result()
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Nil(t, v)
	}
}
