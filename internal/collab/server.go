// Package collab serves collaborator handlers over the Fetch protocol.
//
// A collaborator is any invoker.Invoker: the same interface the engine calls
// through is what a service implements to answer it. One gRPC server can host
// several collaborators; requests are routed by their collaborator field.
package collab

import (
	"context"
	"errors"
	"sort"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/batchgraph/internal/eventbus"
	"github.com/hanpama/batchgraph/internal/events"
	"github.com/hanpama/batchgraph/internal/invoker"
	"github.com/hanpama/batchgraph/internal/wire"
)

// Server answers Fetch calls from the handlers it was built with.
type Server struct {
	handlers invoker.Set
	proto    *wire.Protocol
}

// NewServer returns a server for handlers keyed by collaborator id.
func NewServer(handlers invoker.Set) (*Server, error) {
	p, err := wire.Load()
	if err != nil {
		return nil, err
	}
	if len(handlers) == 0 {
		return nil, errors.New("collab: no handlers")
	}
	return &Server{handlers: handlers, proto: p}, nil
}

// Register builds a Server and attaches it to reg.
func Register(reg grpc.ServiceRegistrar, handlers invoker.Set) (*Server, error) {
	s, err := NewServer(handlers)
	if err != nil {
		return nil, err
	}
	reg.RegisterService(s.ServiceDesc(), s)
	return s, nil
}

// Names lists the hosted collaborators.
func (s *Server) Names() []string {
	names := make([]string, 0, len(s.handlers))
	for n := range s.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ServiceDesc describes the Collaborator service for grpc.Server.
func (s *Server) ServiceDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: wire.ServiceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: string(s.proto.FetchDescriptor().Name()),
			Handler:    s.handleFetch,
		}},
		Metadata: wire.FilePath,
	}
}

func (s *Server) handleFetch(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := s.proto.NewRequestMessage()
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return s.Fetch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: wire.FetchMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return s.Fetch(ctx, req.(*dynamicpb.Message))
	})
}

// Fetch decodes one FetchRequest, runs the addressed handler and encodes its
// results in key order.
func (s *Server) Fetch(ctx context.Context, in *dynamicpb.Message) (resp *dynamicpb.Message, err error) {
	req, err := s.proto.ParseRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.TraceID == "" {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(wire.TraceHeader); len(v) > 0 {
				req.TraceID = v[0]
			}
		}
	}

	start := time.Now()
	defer func() {
		eventbus.Publish(ctx, events.GRPCServerFinish{
			Collaborator: req.Collaborator,
			Keys:         len(req.Keys),
			Code:         status.Code(err),
			Duration:     time.Since(start),
		})
	}()

	h, err := s.handlers.Lookup(req.Collaborator)
	if err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	results, err := h.Fetch(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err = s.proto.NewResponse(req.Keys, results)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, invoker.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, invoker.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
