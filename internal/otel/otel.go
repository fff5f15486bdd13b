// Package otel turns engine events into OpenTelemetry spans:
// http.request > graphql.operation > graphql.batch > grpc.client.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanpama/batchgraph/internal/eventbus"
	"github.com/hanpama/batchgraph/internal/events"
	"github.com/hanpama/batchgraph/internal/reqid"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unsubscribe := Subscribe(tp.Tracer("batchgraph"))
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Subscribe records spans with tracer until the returned function is called.
func Subscribe(tracer trace.Tracer) func() {
	s := &subscriber{tracer: tracer}
	return s.register()
}

type subscriber struct {
	tracer     trace.Tracer
	httpSpans  sync.Map // rid -> trace.Span
	gqlSpans   sync.Map // rid -> trace.Span
	batchSpans sync.Map // batch id -> trace.Span
	grpcSpans  sync.Map // batch id -> trace.Span
}

func (s *subscriber) parent(ctx context.Context, maps ...*sync.Map) context.Context {
	rid, _ := reqid.FromContext(ctx)
	bid, hasBatch := events.BatchIDFromContext(ctx)
	for _, m := range maps {
		var key any = rid
		if m == &s.batchSpans {
			if !hasBatch {
				continue
			}
			key = bid
		}
		if v, ok := m.Load(key); ok {
			return trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	return ctx
}

func end(m *sync.Map, key any, fn func(trace.Span)) {
	v, ok := m.LoadAndDelete(key)
	if !ok {
		return
	}
	span := v.(trace.Span)
	fn(span)
	span.End()
}

func (s *subscriber) register() func() {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "http.request")
			span.SetAttributes(
				semconv.HTTPMethodKey.String(e.Request.Method),
				attribute.String("http.target", e.Request.URL.Path),
			)
			s.httpSpans.Store(rid, span)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
			rid, _ := reqid.FromContext(ctx)
			end(&s.httpSpans, rid, func(span trace.Span) {
				span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
			})
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.GraphQLStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(s.parent(ctx, &s.httpSpans), "graphql.operation")
			span.SetAttributes(
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.operation.type", e.OperationType),
			)
			s.gqlSpans.Store(rid, span)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.GraphQLFinish) {
			rid, _ := reqid.FromContext(ctx)
			end(&s.gqlSpans, rid, func(span trace.Span) {
				span.SetAttributes(
					attribute.Int("graphql.error_count", len(e.Errors)),
					attribute.Bool("graphql.aborted", e.Aborted),
				)
			})
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.BatchStart) {
			_, span := s.tracer.Start(s.parent(ctx, &s.gqlSpans, &s.httpSpans), "graphql.batch")
			span.SetAttributes(
				attribute.String("batchgraph.collaborator", e.Collaborator),
				attribute.Int("batchgraph.level", e.Level),
				attribute.Int("batchgraph.keys", e.Keys),
				attribute.Bool("batchgraph.remote", e.Remote),
			)
			s.batchSpans.Store(e.ID, span)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.BatchFinish) {
			end(&s.batchSpans, e.ID, func(span trace.Span) {
				if e.Err != nil {
					span.RecordError(e.Err)
					span.SetStatus(codes.Error, e.Err.Error())
				}
			})
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.GRPCClientStart) {
			bid, ok := events.BatchIDFromContext(ctx)
			if !ok {
				return
			}
			_, span := s.tracer.Start(s.parent(ctx, &s.batchSpans, &s.gqlSpans), "grpc.client")
			span.SetAttributes(
				semconv.RPCSystemGRPC,
				semconv.RPCMethodKey.String(e.Method),
				attribute.String("batchgraph.collaborator", e.Collaborator),
				attribute.String("net.peer.name", e.Target),
			)
			s.grpcSpans.Store(bid, span)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.GRPCClientFinish) {
			bid, ok := events.BatchIDFromContext(ctx)
			if !ok {
				return
			}
			end(&s.grpcSpans, bid, func(span trace.Span) {
				span.SetAttributes(attribute.String("grpc.code", e.Code.String()))
				if e.Err != nil {
					span.RecordError(e.Err)
					span.SetStatus(codes.Error, e.Err.Error())
				}
			})
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
