package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vovakirdan/viewing-server/internal/app"
	"github.com/vovakirdan/viewing-server/internal/config"
	"github.com/vovakirdan/viewing-server/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath string
	overrides  config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "viewing-server",
		Short:        "Serve live viewer rosters for shared documents",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config file (default ./config.yaml)")
	flags.StringVar(&opts.overrides.Addr, "addr", "", "HTTP listen address")
	flags.StringVar(&opts.overrides.Backend, "backend", "", "presence backend: push, poll or both")
	flags.StringVar(&opts.overrides.Log.Level, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.overrides.Log.Format, "log-format", "", "log format: console or json")
	flags.StringVar(&opts.overrides.Store.Driver, "store-driver", "", "key store for the poll backend: redis, memory or sqlite")
	flags.StringVar(&opts.overrides.Store.RedisURL, "redis-url", "", "redis connection URL")
	flags.DurationVar(&opts.overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")

	cmd.AddCommand(newConfigCmd(opts))
	return cmd
}

func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(opts, io.Discard)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

// resolveConfig layers defaults, file, env and flags. Loader messages go to
// bootOut since the final logger depends on the result.
func resolveConfig(opts *options, bootOut io.Writer) (config.Config, string, error) {
	bootLogger := log.NewWithWriter(bootOut, "info", "console")

	cfg, path, err := config.Load(bootLogger, opts.configPath)
	if err != nil {
		return cfg, path, fmt.Errorf("load config: %w", err)
	}
	cfg.UpdateFrom(opts.overrides)

	if err := cfg.Validate(); err != nil {
		return cfg, path, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

func serve(ctx context.Context, opts *options) error {
	cfg, path, err := resolveConfig(opts, os.Stdout)
	if err != nil {
		return err
	}

	logger := log.New(cfg.Log.Level, cfg.Log.Format)
	logger.Info().Str("config", path).Str("backend", cfg.Backend).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, logger)
	if err != nil {
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting viewing server")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
