// Package config resolves the client configuration: stage preset, then the
// TOML file, then MEETLINK_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/danmuck/meetlink/internal/protocol/session"
)

var (
	ErrUnknownStage = errors.New("config: unknown stage")
	ErrInvalid      = errors.New("config: invalid")
)

type Stage string

const (
	StageDevelopment Stage = "development"
	StageStaging     Stage = "staging"
	StageProduction  Stage = "production"
)

func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case "":
		return StageDevelopment, nil
	case StageDevelopment, StageStaging, StageProduction:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, raw)
	}
}

// Config is everything a meetlink process needs to reach its backend.
type Config struct {
	Stage      Stage
	APIBaseURL string
	WSBaseURL  string
	AuthToken  string
	UserID     string
	// RealtimeEnabled=false runs on fallback content only.
	RealtimeEnabled     bool
	Debug               bool
	FallbackEnabled     bool
	FallbackContentPath string
	MetricsAddr         string
	TracingEndpoint     string
	TracingInsecure     bool
	// CAFile adds a private CA bundle for https and wss endpoints.
	CAFile  string
	Session session.Config
}

// Default returns the preset for stage. Development points at a local backend;
// staging and production need explicit endpoints.
func Default(stage Stage) Config {
	cfg := Config{
		Stage:           stage,
		RealtimeEnabled: true,
		FallbackEnabled: true,
		Session:         session.DefaultConfig(),
	}
	switch stage {
	case StageProduction:
		cfg.Session.SecurityMode = session.SecurityModeProduction
	case StageStaging:
		cfg.Debug = true
		cfg.Session.SecurityMode = session.SecurityModeProduction
	default:
		cfg.Stage = StageDevelopment
		cfg.APIBaseURL = "http://localhost:8000"
		cfg.WSBaseURL = "ws://localhost:8000"
		cfg.Debug = true
		cfg.RealtimeEnabled = false
	}
	return cfg
}

// fileConfig maps config.toml keys.
type fileConfig struct {
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
	TracingInsecure      bool   `toml:"tracing_insecure"`
	CAFile               string `toml:"ca_file"`
	SecurityMode         string `toml:"security_mode"`
	RequestTimeout       string `toml:"request_timeout"`
	HandshakeTimeout     string `toml:"handshake_timeout"`
	WriteTimeout         string `toml:"write_timeout"`
	SessionReuseWindow   string `toml:"session_reuse_window"`
	OutboundQueueSize    int    `toml:"outbound_queue_size"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
	ReconnectBaseDelay   string `toml:"reconnect_base_delay"`
}

// envConfig holds MEETLINK_* overrides. Unset variables leave nil fields.
type envConfig struct {
	Stage                *string        `env:"MEETLINK_STAGE"`
	APIBaseURL           *string        `env:"MEETLINK_API_BASE_URL"`
	WSBaseURL            *string        `env:"MEETLINK_WS_BASE_URL"`
	AuthToken            *string        `env:"MEETLINK_AUTH_TOKEN"`
	UserID               *string        `env:"MEETLINK_USER_ID"`
	RealtimeEnabled      *bool          `env:"MEETLINK_REALTIME_ENABLED"`
	Debug                *bool          `env:"MEETLINK_DEBUG"`
	FallbackEnabled      *bool          `env:"MEETLINK_FALLBACK_ENABLED"`
	FallbackContentPath  *string        `env:"MEETLINK_FALLBACK_CONTENT_PATH"`
	MetricsAddr          *string        `env:"MEETLINK_METRICS_ADDR"`
	TracingEndpoint      *string        `env:"MEETLINK_TRACING_ENDPOINT"`
	TracingInsecure      *bool          `env:"MEETLINK_TRACING_INSECURE"`
	CAFile               *string        `env:"MEETLINK_CA_FILE"`
	RequestTimeout       *time.Duration `env:"MEETLINK_REQUEST_TIMEOUT"`
	HandshakeTimeout     *time.Duration `env:"MEETLINK_HANDSHAKE_TIMEOUT"`
	SessionReuseWindow   *time.Duration `env:"MEETLINK_SESSION_REUSE_WINDOW"`
	MaxReconnectAttempts *int           `env:"MEETLINK_MAX_RECONNECT_ATTEMPTS"`
}

// Load resolves configuration. An empty path skips the file layer.
func Load(path string) (Config, error) {
	var fromEnv envConfig
	if err := env.Parse(&fromEnv); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}

	stageRaw := ""
	var raw fileConfig
	var meta toml.MetaData
	if strings.TrimSpace(path) != "" {
		m, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
		meta = m
		if meta.IsDefined("stage") {
			stageRaw = raw.Stage
		}
	}
	if fromEnv.Stage != nil {
		stageRaw = *fromEnv.Stage
	}
	stage, err := ParseStage(stageRaw)
	if err != nil {
		return Config{}, err
	}

	cfg := Default(stage)
	if strings.TrimSpace(path) != "" {
		if err := applyFile(&cfg, raw, meta); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	applyEnv(&cfg, fromEnv)
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw fileConfig, meta toml.MetaData) error {
	if meta.IsDefined("api_base_url") {
		cfg.APIBaseURL = strings.TrimSpace(raw.APIBaseURL)
	}
	if meta.IsDefined("ws_base_url") {
		cfg.WSBaseURL = strings.TrimSpace(raw.WSBaseURL)
	}
	if meta.IsDefined("auth_token") {
		cfg.AuthToken = strings.TrimSpace(raw.AuthToken)
	}
	if meta.IsDefined("user_id") {
		cfg.UserID = strings.TrimSpace(raw.UserID)
	}
	if meta.IsDefined("realtime_enabled") {
		cfg.RealtimeEnabled = raw.RealtimeEnabled
	}
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}
	if meta.IsDefined("fallback_enabled") {
		cfg.FallbackEnabled = raw.FallbackEnabled
	}
	if meta.IsDefined("fallback_content_path") {
		cfg.FallbackContentPath = strings.TrimSpace(raw.FallbackContentPath)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("tracing_endpoint") {
		cfg.TracingEndpoint = strings.TrimSpace(raw.TracingEndpoint)
	}
	if meta.IsDefined("tracing_insecure") {
		cfg.TracingInsecure = raw.TracingInsecure
	}
	if meta.IsDefined("ca_file") {
		cfg.CAFile = strings.TrimSpace(raw.CAFile)
	}
	if meta.IsDefined("security_mode") {
		cfg.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("outbound_queue_size") {
		cfg.Session.OutboundQueueSize = raw.OutboundQueueSize
	}
	if meta.IsDefined("max_reconnect_attempts") {
		cfg.Session.Backoff.MaxAttempts = raw.MaxReconnectAttempts
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"request_timeout", raw.RequestTimeout, &cfg.Session.RequestTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.Session.HandshakeTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout},
		{"session_reuse_window", raw.SessionReuseWindow, &cfg.Session.SessionReuseWindow},
		{"reconnect_base_delay", raw.ReconnectBaseDelay, &cfg.Session.Backoff.InitialDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config, e envConfig) {
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setDuration := func(dst *time.Duration, v *time.Duration) {
		if v != nil {
			*dst = *v
		}
	}
	setString(&cfg.APIBaseURL, e.APIBaseURL)
	setString(&cfg.WSBaseURL, e.WSBaseURL)
	setString(&cfg.AuthToken, e.AuthToken)
	setString(&cfg.UserID, e.UserID)
	setBool(&cfg.RealtimeEnabled, e.RealtimeEnabled)
	setBool(&cfg.Debug, e.Debug)
	setBool(&cfg.FallbackEnabled, e.FallbackEnabled)
	setString(&cfg.FallbackContentPath, e.FallbackContentPath)
	setString(&cfg.MetricsAddr, e.MetricsAddr)
	setString(&cfg.TracingEndpoint, e.TracingEndpoint)
	setBool(&cfg.TracingInsecure, e.TracingInsecure)
	setString(&cfg.CAFile, e.CAFile)
	setDuration(&cfg.Session.RequestTimeout, e.RequestTimeout)
	setDuration(&cfg.Session.HandshakeTimeout, e.HandshakeTimeout)
	setDuration(&cfg.Session.SessionReuseWindow, e.SessionReuseWindow)
	if e.MaxReconnectAttempts != nil {
		cfg.Session.Backoff.MaxAttempts = *e.MaxReconnectAttempts
	}
}

// Validate checks endpoints against the security mode when realtime is on.
func (c Config) Validate() error {
	if c.Session.Backoff.MaxAttempts < 0 {
		return fmt.Errorf("%w: max_reconnect_attempts must be >= 0", ErrInvalid)
	}
	if c.Session.OutboundQueueSize < 0 {
		return fmt.Errorf("%w: outbound_queue_size must be >= 0", ErrInvalid)
	}
	if !c.RealtimeEnabled {
		if !c.FallbackEnabled {
			return fmt.Errorf("%w: realtime and fallback both disabled", ErrInvalid)
		}
		return nil
	}
	if c.APIBaseURL == "" || c.WSBaseURL == "" {
		return fmt.Errorf("%w: api_base_url and ws_base_url are required for stage %s", ErrInvalid, c.Stage)
	}
	return c.Session.ValidateEndpoints(c.APIBaseURL, c.WSBaseURL)
}
