package main

import (
	"context"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"studio/internal/bootstrap"
	"studio/internal/infra"
)

var version = "dev"

// commandContext opens configuration and backends on first use so that
// help and flag errors never touch the database.
type commandContext struct {
	envFile string
	verbose bool

	cfg     *infra.Config
	logger  infra.Logger
	backend *bootstrap.Backend
}

func (c *commandContext) ensureConfig() (*infra.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil {
			return nil, err
		}
	} else {
		_ = godotenv.Load()
	}
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	level := zerolog.WarnLevel
	if c.verbose {
		level = zerolog.DebugLevel
	}
	c.cfg = cfg
	c.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	return cfg, nil
}

func (c *commandContext) ensureBackend(ctx context.Context) (*bootstrap.Backend, error) {
	if c.backend != nil {
		return c.backend, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	backend, err := bootstrap.Open(ctx, cfg, c.logger, version)
	if err != nil {
		return nil, err
	}
	c.backend = backend
	return backend, nil
}

func (c *commandContext) close() {
	if c.backend != nil {
		c.backend.Close()
		c.backend = nil
	}
}

func newRootCommand() *cobra.Command {
	cc := &commandContext{logger: zerolog.New(io.Discard)}

	rootCmd := &cobra.Command{
		Use:           "exportctl",
		Short:         "Inspect assets and export resources as PDFs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			cc.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cc.envFile, "env-file", "", "Load environment from this file instead of ./.env")
	rootCmd.PersistentFlags().BoolVarP(&cc.verbose, "verbose", "v", false, "Log debug output to stderr")

	rootCmd.AddCommand(newExportCommand(cc))
	rootCmd.AddCommand(newAssetsCommand(cc))

	return rootCmd
}
