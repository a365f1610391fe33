package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrInvalidSecurityMode = errors.New("session: invalid security mode")
	ErrInvalidEndpoint     = errors.New("session: invalid endpoint")
	ErrTLSRequired         = errors.New("session: tls required")
)

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

// ValidateEndpoints checks the API and channel base URLs against the security mode.
// Production requires https and wss.
func (c Config) ValidateEndpoints(apiBase, wsBase string) error {
	mode := NormalizeSecurityMode(c.SecurityMode)
	switch mode {
	case SecurityModeDevelopment, SecurityModeProduction:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}

	api, err := parseEndpoint(apiBase, "http", "https")
	if err != nil {
		return err
	}
	ws, err := parseEndpoint(wsBase, "ws", "wss")
	if err != nil {
		return err
	}
	if mode == SecurityModeProduction {
		if api.Scheme != "https" {
			return fmt.Errorf("%w: api base %q", ErrTLSRequired, apiBase)
		}
		if ws.Scheme != "wss" {
			return fmt.Errorf("%w: ws base %q", ErrTLSRequired, wsBase)
		}
	}
	return nil
}

func parseEndpoint(raw string, schemes ...string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidEndpoint)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q missing host", ErrInvalidEndpoint, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: %q scheme must be one of %v", ErrInvalidEndpoint, raw, schemes)
}
