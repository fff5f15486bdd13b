package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
)

func build() string {
	short := commit
	if len(commit) > 7 {
		short = commit[:7]
	}
	return fmt.Sprintf("%s (%s)", version, short)
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := newApp(os.Stdout).Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("failed to run batchgraph")
	}
}

func newApp(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "batchgraph",
		Usage:   "GraphQL gateway that batches field resolution into collaborator calls",
		Version: build(),
		Writer:  stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				Sources: cli.EnvVars("BATCHGRAPH_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (trace, debug, info, warn, error), overrides the config file",
				Sources: cli.EnvVars("BATCHGRAPH_LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:  "demo",
				Usage: "use the built-in demo schema and in-process demo collaborators",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			collaboratorCommand(),
			{
				Name:  "print-schema",
				Usage: "Print the composed schema as SDL, including resolution directives",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					sch, err := loadSchema(cfg, c.Bool("demo"))
					if err != nil {
						return err
					}
					return printSchema(stdout, sch)
				},
			},
			{
				Name:  "print-proto",
				Usage: "Print the collaborator protocol as a .proto file",
				Action: func(ctx context.Context, c *cli.Command) error {
					return printProto(stdout)
				},
			},
		},
	}
}
