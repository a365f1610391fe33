package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/meetlink/internal/config"
	"github.com/danmuck/meetlink/internal/fallback"
	"github.com/danmuck/meetlink/internal/logging"
)

const version = "0.1.0"

type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "meetlink",
		Short:         "Meeting side-panel session client",
		Long:          "meetlink binds a meeting to a backend session, streams panel content over a websocket and falls back to local content when the backend is unreachable.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config.toml (MEETLINK_* env vars override it)")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newFallbackCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	return root
}

func (o *options) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cfg.Debug && os.Getenv(logging.EnvLogLevel) == "" {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}
	return cfg, nil
}

func loadProvider(cfg config.Config) (*fallback.Provider, error) {
	if cfg.FallbackContentPath == "" {
		return fallback.Default(), nil
	}
	return fallback.Load(cfg.FallbackContentPath)
}
