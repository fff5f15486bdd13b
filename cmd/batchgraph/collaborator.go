package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"google.golang.org/grpc"

	"github.com/hanpama/batchgraph/internal/collab"
	"github.com/hanpama/batchgraph/internal/demo"
	"github.com/hanpama/batchgraph/internal/eventbus"
	"github.com/hanpama/batchgraph/internal/invoker"
	"github.com/hanpama/batchgraph/internal/logging"
)

func collaboratorCommand() *cli.Command {
	return &cli.Command{
		Name:  "collaborator",
		Usage: "Serve demo collaborators over gRPC",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":50051", Usage: "gRPC listen address"},
			&cli.StringSliceFlag{Name: "name", Usage: "collaborator to host (catalog, reviews, recommendations); repeatable, default all"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Console)
			if err != nil {
				return err
			}
			log.Logger = logger
			eventbus.Use(eventbus.New())
			defer logging.Subscribe(logger)()

			handlers, err := demoHandlers(c.StringSlice("name"))
			if err != nil {
				return err
			}
			lis, err := net.Listen("tcp", c.String("addr"))
			if err != nil {
				return err
			}
			srv := grpc.NewServer()
			s, err := collab.Register(srv, handlers)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				srv.GracefulStop()
			}()
			logger.Info().Str("addr", lis.Addr().String()).Strs("collaborators", s.Names()).Msg("collaborator listening")
			return srv.Serve(lis)
		},
	}
}

// demoHandlers returns the named demo collaborators, or all of them.
func demoHandlers(names []string) (invoker.Set, error) {
	all := demo.NewStore().Handlers()
	if len(names) == 0 {
		return all, nil
	}
	out := invoker.Set{}
	for _, n := range names {
		h, ok := all[n]
		if !ok {
			return nil, fmt.Errorf("unknown demo collaborator %q", n)
		}
		out[n] = h
	}
	return out, nil
}
