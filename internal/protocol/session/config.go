package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
	MaxAttempts  int
}

// SecurityMode selects how strictly endpoint schemes are checked.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// Config defines transport/session reliability defaults.
type Config struct {
	SecurityMode       SecurityMode
	RequestTimeout     time.Duration
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	SessionReuseWindow time.Duration
	OutboundQueueSize  int
	Backoff            BackoffConfig
}

// DefaultConfig returns the reconnection contract: five attempts at 2s, 4s, 8s, 16s, 32s.
func DefaultConfig() Config {
	return Config{
		SecurityMode:       SecurityModeDevelopment,
		RequestTimeout:     10 * time.Second,
		HandshakeTimeout:   10 * time.Second,
		WriteTimeout:       5 * time.Second,
		SessionReuseWindow: 2 * time.Minute,
		OutboundQueueSize:  256,
		Backoff: BackoffConfig{
			InitialDelay: 2 * time.Second,
			Multiplier:   2.0,
			MaxDelay:     0,
			Jitter:       false,
			MaxAttempts:  5,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.SecurityMode == "" {
		c.SecurityMode = d.SecurityMode
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SessionReuseWindow <= 0 {
		c.SessionReuseWindow = d.SessionReuseWindow
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = d.OutboundQueueSize
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff.InitialDelay = d.Backoff.InitialDelay
	}
	if c.Backoff.Multiplier <= 0 {
		c.Backoff.Multiplier = d.Backoff.Multiplier
	}
	if c.Backoff.MaxAttempts <= 0 {
		c.Backoff.MaxAttempts = d.Backoff.MaxAttempts
	}
	return c
}
