// Package logging builds the process logger and turns engine events into
// log lines.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/hanpama/batchgraph/internal/eventbus"
	"github.com/hanpama/batchgraph/internal/events"
	"github.com/hanpama/batchgraph/internal/reqid"
)

// New returns a timestamped logger at level. Console output is meant for
// terminals; otherwise lines are JSON.
func New(w io.Writer, level string, console bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("failed to parse log level: %w", err)
	}
	if w == nil {
		w = os.Stderr
	}
	if console {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func withRequest(ctx context.Context, ev *zerolog.Event) *zerolog.Event {
	if id, ok := reqid.FromContext(ctx); ok {
		ev = ev.Int64("request_id", id)
	}
	return ev
}

// Subscribe logs events published on the global bus until the returned
// function is called.
func Subscribe(logger zerolog.Logger) func() {
	unsubs := []func(){
		eventbus.Subscribe[events.GraphQLFinish](func(ctx context.Context, e events.GraphQLFinish) {
			ev := logger.Debug()
			switch {
			case e.Aborted:
				ev = logger.Info().Bool("aborted", true)
			case len(e.Errors) > 0:
				ev = logger.Info().Int("errors", len(e.Errors))
			}
			withRequest(ctx, ev).
				Str("operation", e.OperationName).
				Str("type", e.OperationType).
				Dur("duration", e.Duration).
				Msg("graphql operation finished")
		}),
		eventbus.Subscribe[events.BatchFinish](func(ctx context.Context, e events.BatchFinish) {
			ev := logger.Debug()
			if e.Err != nil {
				ev = logger.Warn().Err(e.Err)
			}
			withRequest(ctx, ev).
				Str("collaborator", e.Collaborator).
				Int("level", e.Level).
				Int("keys", e.Keys).
				Bool("remote", e.Remote).
				Dur("duration", e.Duration).
				Msg("batch finished")
		}),
		eventbus.Subscribe[events.GRPCClientFinish](func(ctx context.Context, e events.GRPCClientFinish) {
			if e.Err == nil {
				return
			}
			withRequest(ctx, logger.Warn().Err(e.Err)).
				Str("collaborator", e.Collaborator).
				Str("target", e.Target).
				Str("code", e.Code.String()).
				Dur("duration", e.Duration).
				Msg("collaborator call failed")
		}),
		eventbus.Subscribe[events.GRPCServerFinish](func(ctx context.Context, e events.GRPCServerFinish) {
			logger.Debug().
				Str("collaborator", e.Collaborator).
				Int("keys", e.Keys).
				Str("code", e.Code.String()).
				Dur("duration", e.Duration).
				Msg("fetch served")
		}),
		eventbus.Subscribe[events.HTTPFinish](func(ctx context.Context, e events.HTTPFinish) {
			ev := logger.Debug()
			if e.Status >= 500 {
				ev = logger.Warn()
			}
			withRequest(ctx, ev).
				Str("method", e.Request.Method).
				Str("path", e.Request.URL.Path).
				Int("status", e.Status).
				Dur("duration", e.Duration).
				Msg("http request")
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
