package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/danmuck/meetlink/internal/config"
)

// resolvedView is the printable form of a resolved config.
type resolvedView struct {
	Stage                string `toml:"stage"`
	APIBaseURL           string `toml:"api_base_url"`
	WSBaseURL            string `toml:"ws_base_url"`
	AuthToken            string `toml:"auth_token"`
	UserID               string `toml:"user_id"`
	RealtimeEnabled      bool   `toml:"realtime_enabled"`
	Debug                bool   `toml:"debug"`
	FallbackEnabled      bool   `toml:"fallback_enabled"`
	FallbackContentPath  string `toml:"fallback_content_path"`
	MetricsAddr          string `toml:"metrics_addr"`
	TracingEndpoint      string `toml:"tracing_endpoint"`
	CAFile               string `toml:"ca_file"`
	SecurityMode         string `toml:"security_mode"`
	RequestTimeout       string `toml:"request_timeout"`
	HandshakeTimeout     string `toml:"handshake_timeout"`
	WriteTimeout         string `toml:"write_timeout"`
	SessionReuseWindow   string `toml:"session_reuse_window"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
	ReconnectBaseDelay   string `toml:"reconnect_base_delay"`
}

func newResolvedView(cfg config.Config) resolvedView {
	token := ""
	if cfg.AuthToken != "" {
		token = "redacted"
	}
	d := func(v time.Duration) string { return v.String() }
	return resolvedView{
		Stage:                string(cfg.Stage),
		APIBaseURL:           cfg.APIBaseURL,
		WSBaseURL:            cfg.WSBaseURL,
		AuthToken:            token,
		UserID:               cfg.UserID,
		RealtimeEnabled:      cfg.RealtimeEnabled,
		Debug:                cfg.Debug,
		FallbackEnabled:      cfg.FallbackEnabled,
		FallbackContentPath:  cfg.FallbackContentPath,
		MetricsAddr:          cfg.MetricsAddr,
		TracingEndpoint:      cfg.TracingEndpoint,
		CAFile:               cfg.CAFile,
		SecurityMode:         string(cfg.Session.SecurityMode),
		RequestTimeout:       d(cfg.Session.RequestTimeout),
		HandshakeTimeout:     d(cfg.Session.HandshakeTimeout),
		WriteTimeout:         d(cfg.Session.WriteTimeout),
		SessionReuseWindow:   d(cfg.Session.SessionReuseWindow),
		MaxReconnectAttempts: cfg.Session.Backoff.MaxAttempts,
		ReconnectBaseDelay:   d(cfg.Session.Backoff.InitialDelay),
	}
}

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or generate configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(newResolvedView(cfg))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "config ok stage=%s realtime=%v fallback=%v\n", cfg.Stage, cfg.RealtimeEnabled, cfg.FallbackEnabled)
			return err
		},
	})

	var stageRaw, output string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := config.ParseStage(stageRaw)
			if err != nil {
				return err
			}
			if err := config.WriteTemplate(output, stage, force); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", stage, output)
			return err
		},
	}
	initCmd.Flags().StringVar(&stageRaw, "stage", string(config.StageDevelopment), "development|staging|production")
	initCmd.Flags().StringVarP(&output, "output", "o", "config.toml", "output path")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}
