// Package config loads process configuration from environment variables.
// main applies flag overrides on top, so precedence is flag > env > default.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Transport names for the MCP side.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// Config holds all process configuration.
type Config struct {
	// MCPAddr is the listen address for the streamable-HTTP MCP transport.
	MCPAddr string `env:"SCENELINK_MCP_ADDR" envDefault:":8420"`
	// ViewerAddr is the listen address for the viewer websocket endpoint.
	ViewerAddr string `env:"SCENELINK_VIEWER_ADDR" envDefault:":8421"`
	// PublicURL is the externally reachable base URL for viewer links.
	// Empty means derive from ViewerAddr on localhost.
	PublicURL string `env:"SCENELINK_PUBLIC_URL"`
	// Transport selects the MCP transport: "http" or "stdio".
	Transport string `env:"SCENELINK_TRANSPORT" envDefault:"http"`
	// QueryTimeout bounds one live state round trip.
	QueryTimeout time.Duration `env:"SCENELINK_QUERY_TIMEOUT" envDefault:"2s"`
	// DefaultSession is the implicit session id used when a tool call
	// carries no session identity (single-connection deployments).
	DefaultSession string `env:"SCENELINK_DEFAULT_SESSION" envDefault:"local"`
	// AllowedOrigins is the websocket origin allowlist. Empty allows only
	// localhost origins; "*" allows all.
	AllowedOrigins []string `env:"SCENELINK_ALLOWED_ORIGINS" envSeparator:","`
	// RefreshCron schedules the background cache warmer. Empty disables it.
	RefreshCron string `env:"SCENELINK_REFRESH_CRON"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"SCENELINK_LOG_LEVEL" envDefault:"info"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportHTTP, TransportStdio:
	default:
		return fmt.Errorf("unknown transport %q (want %q or %q)", c.Transport, TransportHTTP, TransportStdio)
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive, got %s", c.QueryTimeout)
	}
	return nil
}

// ViewerBaseURL returns the HTTP base URL viewers reach the server at.
func (c *Config) ViewerBaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}

	host, port, err := net.SplitHostPort(c.ViewerAddr)
	if err != nil {
		return "http://localhost" + c.ViewerAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%s", host, port)
}

// ConnectionURL returns the websocket URL a viewer opens to join the given
// session.
func (c *Config) ConnectionURL(sessionID string) string {
	base := c.ViewerBaseURL()
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws?session=" + url.QueryEscape(sessionID)
}
