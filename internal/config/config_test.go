package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

var envVars = []string{
	"IPC_SCHEME", "IPC_ALLOWED_CAPABILITIES",
	"EXTENSION_ARENA_LIMIT", "EVENT_LOOP_QUEUE_SIZE",
	"INVOKE_TIMEOUT", "COMMS_URL", "SERVICE_NAME",
	"COMMS_INVOKE_SUBJECT", "COMMS_EVENT_SUBJECT_PREFIX",
	"HTTP_PORT", "HEALTH_CHECK_TIMEOUT", "LOG_LEVEL",
}

func clearEnv() {
	for _, env := range envVars {
		os.Unsetenv(env)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.Scheme != "ipc" {
		t.Errorf("config:config_test - Scheme = %q, want %q", cfg.Scheme, "ipc")
	}
	if len(cfg.AllowedCapabilities) != 5 || cfg.AllowedCapabilities[0] != "ipc_router_map" {
		t.Errorf("config:config_test - AllowedCapabilities = %v", cfg.AllowedCapabilities)
	}
	if cfg.ArenaLimit != 4096 {
		t.Errorf("config:config_test - ArenaLimit = %d, want 4096", cfg.ArenaLimit)
	}
	if cfg.QueueSize != 256 {
		t.Errorf("config:config_test - QueueSize = %d, want 256", cfg.QueueSize)
	}
	if cfg.InvokeTimeout != 30*time.Second {
		t.Errorf("config:config_test - InvokeTimeout = %v, want 30s", cfg.InvokeTimeout)
	}
	if cfg.COMMSURL != "" || cfg.BusEnabled() {
		t.Errorf("config:config_test - COMMSURL = %q, want empty", cfg.COMMSURL)
	}
	if cfg.COMMSName != "native-bridge" {
		t.Errorf("config:config_test - COMMSName = %q, want %q", cfg.COMMSName, "native-bridge")
	}
	if cfg.InvokeSubject != "ipc.invoke" || cfg.EventSubjectPrefix != "ipc.events" {
		t.Errorf("config:config_test - subjects = %q/%q", cfg.InvokeSubject, cfg.EventSubjectPrefix)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("config:config_test - HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.HealthCheckTimeout != 5*time.Second {
		t.Errorf("config:config_test - HealthCheckTimeout = %v, want 5s", cfg.HealthCheckTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Errorf("config:config_test - defaults fail validation: %v", err)
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv()
	overrides := map[string]string{
		"IPC_SCHEME":                 "bridge://",
		"IPC_ALLOWED_CAPABILITIES":   "ipc_router_listen,ipc_router_reply",
		"EXTENSION_ARENA_LIMIT":      "16",
		"EVENT_LOOP_QUEUE_SIZE":      "8",
		"INVOKE_TIMEOUT":             "2s",
		"COMMS_URL":                  "nats://custom:4222",
		"SERVICE_NAME":               "test-bridge",
		"COMMS_INVOKE_SUBJECT":       "custom.invoke",
		"COMMS_EVENT_SUBJECT_PREFIX": "custom.events",
		"HTTP_PORT":                  "9090",
		"HEALTH_CHECK_TIMEOUT":       "10s",
		"LOG_LEVEL":                  "debug",
	}

	for key, val := range overrides {
		os.Setenv(key, val)
	}
	defer clearEnv()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.Scheme != "bridge" {
		t.Errorf("config:config_test - Scheme = %q, want %q", cfg.Scheme, "bridge")
	}
	if len(cfg.AllowedCapabilities) != 2 || cfg.AllowedCapabilities[1] != "ipc_router_reply" {
		t.Errorf("config:config_test - AllowedCapabilities = %v", cfg.AllowedCapabilities)
	}
	if cfg.ArenaLimit != 16 || cfg.QueueSize != 8 {
		t.Errorf("config:config_test - ArenaLimit/QueueSize = %d/%d", cfg.ArenaLimit, cfg.QueueSize)
	}
	if cfg.InvokeTimeout != 2*time.Second {
		t.Errorf("config:config_test - InvokeTimeout = %v, want 2s", cfg.InvokeTimeout)
	}
	if !cfg.BusEnabled() || cfg.COMMSName != "test-bridge" {
		t.Errorf("config:config_test - bus = %q as %q", cfg.COMMSURL, cfg.COMMSName)
	}
	if cfg.InvokeSubject != "custom.invoke" || cfg.EventSubjectPrefix != "custom.events" {
		t.Errorf("config:config_test - subjects = %q/%q", cfg.InvokeSubject, cfg.EventSubjectPrefix)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("config:config_test - HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.HealthCheckTimeout != 10*time.Second {
		t.Errorf("config:config_test - HealthCheckTimeout = %v, want 10s", cfg.HealthCheckTimeout)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("config:config_test - SlogLevel = %v, want debug", cfg.SlogLevel())
	}
}

func TestConfig_SlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"loud":  slog.LevelInfo,
	}
	for level, want := range tests {
		cfg := &Config{LogLevel: level}
		if got := cfg.SlogLevel(); got != want {
			t.Errorf("config:config_test - SlogLevel(%q) = %v, want %v", level, got, want)
		}
	}
}

func TestConfig_ValidateForServe(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Scheme:             "ipc",
			InvokeTimeout:      time.Second,
			HealthCheckTimeout: time.Second,
			QueueSize:          1,
			ArenaLimit:         1,
			InvokeSubject:      "ipc.invoke",
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty scheme", func(c *Config) { c.Scheme = "" }},
		{"zero invoke timeout", func(c *Config) { c.InvokeTimeout = 0 }},
		{"zero health timeout", func(c *Config) { c.HealthCheckTimeout = 0 }},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }},
		{"zero arena", func(c *Config) { c.ArenaLimit = 0 }},
		{"bus without subject", func(c *Config) { c.COMMSURL = "nats://x"; c.InvokeSubject = "" }},
	}

	if err := valid().ValidateForServe(); err != nil {
		t.Fatalf("config:config_test - valid config rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if err := c.ValidateForServe(); err == nil {
				t.Errorf("config:config_test - expected validation error")
			}
		})
	}
}
