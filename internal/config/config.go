// Package config provides bridge configuration loaded from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds native-bridge configuration.
type Config struct {
	// Router
	Scheme              string   `envconfig:"IPC_SCHEME" default:"ipc"`
	AllowedCapabilities []string `envconfig:"IPC_ALLOWED_CAPABILITIES" default:"ipc_router_map,ipc_router_unmap,ipc_router_listen,ipc_router_unlisten,ipc_router_reply"`

	// Extensions
	ArenaLimit int `envconfig:"EXTENSION_ARENA_LIMIT" default:"4096"`

	// Event loop
	QueueSize int `envconfig:"EVENT_LOOP_QUEUE_SIZE" default:"256"`

	// Timeouts
	InvokeTimeout time.Duration `envconfig:"INVOKE_TIMEOUT" default:"30s"`

	// COMMS: empty COMMSURL runs the bridge without a bus.
	COMMSURL           string `envconfig:"COMMS_URL"`
	COMMSName          string `envconfig:"SERVICE_NAME" default:"native-bridge"`
	InvokeSubject      string `envconfig:"COMMS_INVOKE_SUBJECT" default:"ipc.invoke"`
	EventSubjectPrefix string `envconfig:"COMMS_EVENT_SUBJECT_PREFIX" default:"ipc.events"`

	// HTTP health endpoint
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	c.Scheme = strings.TrimSuffix(c.Scheme, "://")
	return &c, nil
}

// BusEnabled reports whether a COMMS URL is configured.
func (c *Config) BusEnabled() bool { return c.COMMSURL != "" }

// SlogLevel maps LogLevel to a slog level; unknown values map to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidateForServe checks required config when running the bridge server.
func (c *Config) ValidateForServe() error {
	if c.Scheme == "" {
		return fmt.Errorf("%s - IPC_SCHEME is required for serve", logPrefix)
	}
	if c.InvokeTimeout <= 0 {
		return fmt.Errorf("%s - INVOKE_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%s - EVENT_LOOP_QUEUE_SIZE must be positive", logPrefix)
	}
	if c.ArenaLimit <= 0 {
		return fmt.Errorf("%s - EXTENSION_ARENA_LIMIT must be positive", logPrefix)
	}
	if c.BusEnabled() && c.InvokeSubject == "" {
		return fmt.Errorf("%s - COMMS_INVOKE_SUBJECT is required when COMMS_URL is set", logPrefix)
	}
	return nil
}
