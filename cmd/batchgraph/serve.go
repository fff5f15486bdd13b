package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hanpama/batchgraph/internal/config"
	"github.com/hanpama/batchgraph/internal/demo"
	"github.com/hanpama/batchgraph/internal/eventbus"
	"github.com/hanpama/batchgraph/internal/executor"
	"github.com/hanpama/batchgraph/internal/grpctp"
	"github.com/hanpama/batchgraph/internal/introspection"
	"github.com/hanpama/batchgraph/internal/invoker"
	"github.com/hanpama/batchgraph/internal/logging"
	"github.com/hanpama/batchgraph/internal/metrics"
	"github.com/hanpama/batchgraph/internal/otel"
	"github.com/hanpama/batchgraph/internal/schema"
	"github.com/hanpama/batchgraph/internal/server"
	"github.com/hanpama/batchgraph/internal/wire"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the GraphQL gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "HTTP listen address, overrides server.addr"},
			&cli.BoolFlag{Name: "introspection", Usage: "enable __schema and __type, overrides server.introspection"},
			&cli.BoolFlag{Name: "pretty", Usage: "indent JSON responses"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.IsSet("addr") {
				cfg.Server.Addr = c.String("addr")
			}
			if c.IsSet("introspection") {
				cfg.Server.Introspection = c.Bool("introspection")
			}
			if c.Bool("pretty") {
				cfg.Server.Pretty = true
			}
			return serve(ctx, cfg, c.Bool("demo"))
		},
	}
}

// loadConfig reads --config when given and applies the global overrides.
func loadConfig(c *cli.Command) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if level := c.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

func loadSchema(cfg *config.Config, useDemo bool) (*schema.Schema, error) {
	if useDemo {
		return schema.BuildFromSDL(demo.SDL)
	}
	if len(cfg.Schema.Files) == 0 {
		return nil, errors.New("no schema files configured; pass --config or --demo")
	}
	sch, err := schema.BuildFromFiles(cfg.Schema.Files...)
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	return sch, nil
}

// gateway is the assembled HTTP surface plus everything that needs closing.
type gateway struct {
	handler http.Handler
	closers []func() error
}

func (g *gateway) Close() error {
	var errs []error
	for i := len(g.closers) - 1; i >= 0; i-- {
		errs = append(errs, g.closers[i]())
	}
	return errors.Join(errs...)
}

// newGateway wires schema, invokers, executor and HTTP handlers from cfg.
// Event subscribers are attached to the global bus.
func newGateway(cfg *config.Config, useDemo bool, logger zerolog.Logger) (*gateway, error) {
	if !useDemo {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	g := &gateway{}
	fail := func(err error) (*gateway, error) {
		_ = g.Close()
		return nil, err
	}

	sch, err := loadSchema(cfg, useDemo)
	if err != nil {
		return fail(err)
	}

	var invokers invoker.Set
	if useDemo {
		invokers = demo.NewStore().Handlers()
	} else {
		invokers = invoker.Set{}
		for _, name := range cfg.CollaboratorNames() {
			cc := cfg.Collaborators[name]
			tp, err := grpctp.New(
				grpctp.WithProvider(grpctp.NewStaticEndpoints(map[string][]string{name: cc.Endpoints})),
				grpctp.WithMaxConnsPerEndpoint(cc.MaxConns),
				grpctp.WithRPCTimeout(cc.RPCTimeout),
			)
			if err != nil {
				return fail(fmt.Errorf("collaborator %s: %w", name, err))
			}
			g.closers = append(g.closers, tp.Close)
			invokers[name] = tp
		}
	}

	var rt executor.Runtime
	if cfg.Server.Introspection {
		w := introspection.Wrap(nil, sch)
		sch, rt = w.Schema, w.Runtime
	}
	exec, err := executor.New(sch, rt, invokers,
		executor.WithMaxDepth(cfg.Engine.MaxDepth),
		executor.WithBatchTimeout(cfg.Engine.BatchTimeout),
		executor.WithMaxConcurrentFlushes(cfg.Engine.MaxConcurrentFlushes),
	)
	if err != nil {
		return fail(err)
	}

	opts := []server.Option{
		server.WithTimeout(cfg.Engine.RequestTimeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	}
	if cfg.Server.Pretty {
		opts = append(opts, server.WithPretty())
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		opts = append(opts, server.WithCORS(cfg.Server.CORSOrigins...))
	}
	if len(cfg.Server.MetadataHeaders) > 0 {
		opts = append(opts, server.WithMetadataHeaders(cfg.Server.MetadataHeaders...))
	}
	h, err := server.New(exec, opts...)
	if err != nil {
		return fail(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)
	g.closers = append(g.closers, unsubscribe(logging.Subscribe(logger)))
	if cfg.Metrics.Enabled {
		m, err := metrics.New(prometheus.NewRegistry())
		if err != nil {
			return fail(err)
		}
		mux.Handle(cfg.Metrics.Path, m.Handler())
		g.closers = append(g.closers, unsubscribe(m.Subscribe()))
	}
	g.handler = mux
	return g, nil
}

func unsubscribe(fn func()) func() error {
	return func() error { fn(); return nil }
}

func serve(ctx context.Context, cfg *config.Config, useDemo bool) error {
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Console)
	if err != nil {
		return err
	}
	log.Logger = logger

	eventbus.Use(eventbus.New())
	shutdownTracing, err := otel.Setup(cfg.OTel.Endpoint, cfg.OTel.ServiceName)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	g, err := newGateway(cfg, useDemo, logger)
	if err != nil {
		return err
	}
	defer g.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: g.handler}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(lis) }()
	logger.Info().Str("addr", lis.Addr().String()).Bool("demo", useDemo).Msg("GraphQL server listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func printSchema(w io.Writer, sch *schema.Schema) error {
	_, err := io.WriteString(w, schema.Render(sch))
	return err
}

func printProto(w io.Writer) error {
	p, err := wire.Load()
	if err != nil {
		return err
	}
	return p.Render(w)
}
