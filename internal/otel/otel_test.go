package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hanpama/batchgraph/internal/eventbus"
	"github.com/hanpama/batchgraph/internal/events"
	"github.com/hanpama/batchgraph/internal/reqid"
)

func TestSubscribe_SpanTree(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer Subscribe(tp.Tracer("test"))()

	ctx, _ := reqid.NewContext(context.Background())
	eventbus.Publish(ctx, events.GraphQLStart{OperationName: "Products", OperationType: "query"})

	// Two concurrent calls of the same request keep separate spans.
	c1 := events.WithBatchID(ctx, 1)
	c2 := events.WithBatchID(ctx, 2)
	eventbus.Publish(c1, events.BatchStart{ID: 1, Collaborator: "catalog", Level: 1, Keys: 5})
	eventbus.Publish(c2, events.BatchStart{ID: 2, Collaborator: "reviews", Level: 1, Keys: 5})
	eventbus.Publish(c1, events.GRPCClientStart{Collaborator: "catalog", Target: "localhost:7000"})
	eventbus.Publish(c2, events.GRPCClientStart{Collaborator: "reviews", Target: "localhost:7001"})
	eventbus.Publish(c2, events.GRPCClientFinish{Collaborator: "reviews", Err: errors.New("boom")})
	eventbus.Publish(c1, events.GRPCClientFinish{Collaborator: "catalog"})
	eventbus.Publish(c1, events.BatchFinish{ID: 1, Collaborator: "catalog"})
	eventbus.Publish(c2, events.BatchFinish{ID: 2, Collaborator: "reviews", Err: errors.New("boom")})
	eventbus.Publish(ctx, events.GraphQLFinish{OperationName: "Products", OperationType: "query"})

	ended := rec.Ended()
	require.Len(t, ended, 5)
	byName := map[string][]sdktrace.ReadOnlySpan{}
	for _, s := range ended {
		byName[s.Name()] = append(byName[s.Name()], s)
	}
	require.Len(t, byName["graphql.operation"], 1)
	require.Len(t, byName["graphql.batch"], 2)
	require.Len(t, byName["grpc.client"], 2)

	op := byName["graphql.operation"][0]
	batchByID := map[string]sdktrace.ReadOnlySpan{}
	for _, b := range byName["graphql.batch"] {
		require.Equal(t, op.SpanContext().SpanID(), b.Parent().SpanID())
		batchByID[b.SpanContext().SpanID().String()] = b
	}
	for _, g := range byName["grpc.client"] {
		parent, ok := batchByID[g.Parent().SpanID().String()]
		require.True(t, ok)
		var collaborator string
		for _, a := range parent.Attributes() {
			if a.Key == "batchgraph.collaborator" {
				collaborator = a.Value.AsString()
			}
		}
		var own string
		for _, a := range g.Attributes() {
			if a.Key == "batchgraph.collaborator" {
				own = a.Value.AsString()
			}
		}
		require.Equal(t, collaborator, own)
	}
}

func TestSetup_NoEndpoint(t *testing.T) {
	shutdown, err := Setup("", "batchgraph")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
