package grpctp

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/hanpama/batchgraph/internal/eventbus"
	"github.com/hanpama/batchgraph/internal/events"
	"github.com/hanpama/batchgraph/internal/invoker"
	"github.com/hanpama/batchgraph/internal/wire"
)

// Transport is a gRPC invoker with connection pooling and deadline
// propagation. It integrates with an EndpointProvider for discovery and can
// serve any number of collaborators.
type Transport struct {
	opts  *Options
	proto *wire.Protocol

	mu     sync.RWMutex
	pools  map[string]*connPool // key: endpoint
	closed atomic.Bool
}

func New(opts ...Option) (*Transport, error) {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if len(o.DialOptions) == 0 {
		o.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	p, err := wire.Load()
	if err != nil {
		return nil, err
	}
	return &Transport{
		opts:  o,
		proto: p,
		pools: make(map[string]*connPool),
	}, nil
}

var _ invoker.Invoker = (*Transport)(nil)

// Invokers returns a set routing every named collaborator through t.
func (t *Transport) Invokers(collaborators ...string) invoker.Set {
	set := make(invoker.Set, len(collaborators))
	for _, c := range collaborators {
		set[c] = t
	}
	return set
}

// Fetch sends req to one endpoint of req.Collaborator.
func (t *Transport) Fetch(ctx context.Context, req invoker.Request) (results map[invoker.Key]invoker.Result, err error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if t.opts.Provider == nil {
		return nil, errors.New("grpctp: provider not configured")
	}

	if _, ok := ctx.Deadline(); !ok && t.opts.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RPCTimeout)
		defer cancel()
	}
	if req.TraceID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, wire.TraceHeader, req.TraceID)
	}

	endpoints, err := t.opts.Provider.Endpoints(ctx, req.Collaborator)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", invoker.ErrUnavailable, req.Collaborator, err)
	}
	endpoint := endpoints[rand.Intn(len(endpoints))]

	cc, err := t.getConn(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", invoker.ErrUnavailable, req.Collaborator, err)
	}
	defer t.returnConn(endpoint, cc)

	start := time.Now()
	eventbus.Publish(ctx, events.GRPCClientStart{
		Collaborator: req.Collaborator,
		Method:       wire.FetchMethod,
		Target:       endpoint,
		Keys:         len(req.Keys),
	})
	resp := t.proto.NewResponseMessage()
	err = cc.Invoke(ctx, wire.FetchMethod, t.proto.NewRequest(req), resp)
	eventbus.Publish(ctx, events.GRPCClientFinish{
		Collaborator: req.Collaborator,
		Method:       wire.FetchMethod,
		Target:       endpoint,
		Keys:         len(req.Keys),
		Code:         status.Code(err),
		Err:          err,
		Duration:     time.Since(start),
	})
	if err != nil {
		return nil, mapError(req.Collaborator, err)
	}
	return t.proto.ParseResponse(resp)
}

// mapError translates gRPC status codes into invoker errors.
func mapError(collaborator string, err error) error {
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s: %w", invoker.ErrTimeout, collaborator, context.DeadlineExceeded)
	case codes.Canceled:
		return fmt.Errorf("grpctp: %s: %w", collaborator, context.Canceled)
	case codes.Unavailable:
		return fmt.Errorf("%w: %s: %s", invoker.ErrUnavailable, collaborator, status.Convert(err).Message())
	}
	return fmt.Errorf("grpctp: %s: %s", collaborator, status.Convert(err).Message())
}

func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pools {
		p.close()
	}
	t.pools = map[string]*connPool{}
	return nil
}

// ---------------- internals ----------------

type connPool struct {
	endpoint string
	opts     *Options
	conns    chan *grpc.ClientConn
	mu       sync.Mutex
	closed   bool
}

func newConnPool(endpoint string, opts *Options) *connPool {
	n := opts.MaxConnsPerEndpoint
	if n <= 0 {
		n = 2
	}
	return &connPool{
		endpoint: endpoint,
		opts:     opts,
		conns:    make(chan *grpc.ClientConn, n),
	}
}

func (p *connPool) get() (*grpc.ClientConn, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	select {
	case cc := <-p.conns:
		return cc, nil
	default:
		return grpc.NewClient(p.endpoint, p.opts.DialOptions...)
	}
}

func (p *connPool) put(cc *grpc.ClientConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = cc.Close()
		return
	}
	select {
	case p.conns <- cc:
	default:
		_ = cc.Close()
	}
}

func (p *connPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.conns)
	for cc := range p.conns {
		_ = cc.Close()
	}
}

func (t *Transport) getConn(endpoint string) (*grpc.ClientConn, error) {
	t.mu.RLock()
	pool := t.pools[endpoint]
	t.mu.RUnlock()
	if pool == nil {
		t.mu.Lock()
		pool = t.pools[endpoint]
		if pool == nil {
			pool = newConnPool(endpoint, t.opts)
			t.pools[endpoint] = pool
		}
		t.mu.Unlock()
	}
	return pool.get()
}

func (t *Transport) returnConn(endpoint string, cc *grpc.ClientConn) {
	t.mu.RLock()
	pool := t.pools[endpoint]
	t.mu.RUnlock()
	if pool != nil {
		pool.put(cc)
		return
	}
	_ = cc.Close()
}
