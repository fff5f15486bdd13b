package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/batchgraph/internal/eventbus"
	"github.com/hanpama/batchgraph/internal/events"
	"github.com/hanpama/batchgraph/internal/invoker"
)

func TestSubscribe(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	defer m.Subscribe()()

	ctx := context.Background()
	eventbus.Publish(ctx, events.BatchFinish{Collaborator: "reviews", Level: 2, Keys: 5, Duration: 3 * time.Millisecond})
	eventbus.Publish(ctx, events.BatchFinish{Collaborator: "reviews", Level: 2, Keys: 5, Err: fmt.Errorf("%w: reviews", invoker.ErrTimeout)})
	eventbus.Publish(ctx, events.BatchFinish{Collaborator: "reviews", Keys: 1, Remote: true, Err: invoker.ErrUnavailable})
	eventbus.Publish(ctx, events.GraphQLFinish{OperationType: "query"})
	eventbus.Publish(ctx, events.GraphQLFinish{OperationType: "query", Aborted: true})

	require.Equal(t, float64(2), testutil.ToFloat64(m.BatchCalls.WithLabelValues("reviews", "false")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.BatchCalls.WithLabelValues("reviews", "true")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.BatchErrors.WithLabelValues("reviews", "timeout")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.BatchErrors.WithLabelValues("reviews", "unavailable")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Operations.WithLabelValues("query", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Operations.WithLabelValues("query", "aborted")))
}

func TestHandler(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	m.BatchCalls.WithLabelValues("catalog", "false").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `batchgraph_batch_calls_total{collaborator="catalog",remote="false"} 1`)
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}
