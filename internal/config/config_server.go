package config

import (
	"time"

	"github.com/wagmii/core/internal/audit"
	"github.com/wagmii/core/internal/ratelimit"
)

// ServerConfig configures the local HTTP/SSE API.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`

	// CORSOrigins restricts allowed browser origins; empty means local-only
	// defaults (loopback origins).
	CORSOrigins []string `yaml:"cors_origins"`

	// RateLimit throttles inbound requests per API key/remote address.
	RateLimit ratelimit.Config `yaml:"rate_limit"`

	// Audit logs tool invocations, approval decisions, and session lifecycle
	// events emitted by the engine.
	Audit audit.Config `yaml:"audit"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}
