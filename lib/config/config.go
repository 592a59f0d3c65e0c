// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar is the environment variable naming the config file for Load.
const EnvVar = "REXEC_CONFIG"

// Config is the master configuration for the rexec broker.
type Config struct {
	// ClientPort is the TCP port accepting client connections.
	// Port 0 binds an ephemeral port (useful in tests).
	ClientPort int `yaml:"client_port"`

	// ServerPort is the TCP port accepting backend worker connections.
	ServerPort int `yaml:"server_port"`

	// ControlPort is the TCP port accepting the termination signal.
	ControlPort int `yaml:"control_port"`

	// MetricsPort is the TCP port serving Prometheus metrics on
	// /metrics. 0 disables the metrics listener.
	MetricsPort int `yaml:"metrics_port"`

	// Heartbeat configures worker liveness tracking.
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`

	// Request configures in-flight request handling.
	Request RequestConfig `yaml:"request"`

	// Shutdown configures the graceful-shutdown drain.
	Shutdown ShutdownConfig `yaml:"shutdown"`

	// TickInterval bounds the dispatcher's blocking wait. Eviction and
	// expiry checks run at most this long after they become due, so it
	// must not exceed the eviction threshold or the request expiry.
	TickInterval time.Duration `yaml:"tick_interval"`

	// Auth configures optional per-request token validation. An empty
	// APIURL disables validation and requests need no token.
	Auth AuthConfig `yaml:"auth"`
}

// HeartbeatConfig configures worker liveness tracking.
type HeartbeatConfig struct {
	// Interval is how often workers are expected to send heartbeats.
	// Advertised to workers; the broker itself only checks against
	// EvictionThreshold.
	Interval time.Duration `yaml:"interval"`

	// EvictionThreshold is how long a worker may go without a
	// heartbeat before it is evicted and its in-flight request failed.
	EvictionThreshold time.Duration `yaml:"eviction_threshold"`
}

// RequestConfig configures in-flight request handling.
type RequestConfig struct {
	// Expiry is how long an assigned request may wait for its worker's
	// result before it is failed back to the client.
	Expiry time.Duration `yaml:"expiry"`

	// BacklogCapacity is the maximum number of requests queued while
	// no worker is idle. Arrivals beyond this receive an immediate
	// backpressure rejection. 0 disables queueing entirely.
	BacklogCapacity int `yaml:"backlog_capacity"`
}

// ShutdownConfig configures the graceful-shutdown drain.
type ShutdownConfig struct {
	// Grace is how long the broker keeps processing in-flight and
	// queued requests after the termination signal before force-failing
	// the remainder.
	Grace time.Duration `yaml:"grace"`
}

// AuthConfig configures optional execution-token validation.
type AuthConfig struct {
	// APIURL is the endpoint POSTed {"token": ...} for validation.
	// Empty disables validation.
	APIURL string `yaml:"api_url"`

	// Timeout bounds each validation request.
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns a Config with the standard development defaults. The
// port numbers match the historical broker deployment.
func Default() Config {
	return Config{
		ClientPort:  5559,
		ServerPort:  5560,
		ControlPort: 5561,
		Heartbeat: HeartbeatConfig{
			Interval:          2 * time.Second,
			EvictionThreshold: 6 * time.Second,
		},
		Request: RequestConfig{
			Expiry:          30 * time.Second,
			BacklogCapacity: 128,
		},
		Shutdown: ShutdownConfig{
			Grace: 5 * time.Second,
		},
		TickInterval: time.Second,
		Auth: AuthConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// Load reads the config file named by the REXEC_CONFIG environment
// variable. If the variable is unset, the defaults are returned
// unchanged. There is no directory search and no fallback path:
// configuration is either explicit or default.
func Load() (Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads and validates the YAML config file at path. Fields
// absent from the file keep their defaults.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the broker cannot run
// with. It does not check reachability of the auth API.
func (c *Config) Validate() error {
	for _, port := range []struct {
		name  string
		value int
	}{
		{"client_port", c.ClientPort},
		{"server_port", c.ServerPort},
		{"control_port", c.ControlPort},
		{"metrics_port", c.MetricsPort},
	} {
		if port.value < 0 || port.value > 65535 {
			return fmt.Errorf("%s %d outside 0-65535", port.name, port.value)
		}
	}

	if c.Heartbeat.EvictionThreshold <= 0 {
		return fmt.Errorf("heartbeat.eviction_threshold must be positive, got %v", c.Heartbeat.EvictionThreshold)
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be positive, got %v", c.Heartbeat.Interval)
	}
	if c.Heartbeat.Interval >= c.Heartbeat.EvictionThreshold {
		return fmt.Errorf("heartbeat.interval %v must be below eviction_threshold %v",
			c.Heartbeat.Interval, c.Heartbeat.EvictionThreshold)
	}
	if c.Request.Expiry <= 0 {
		return fmt.Errorf("request.expiry must be positive, got %v", c.Request.Expiry)
	}
	if c.Request.BacklogCapacity < 0 {
		return fmt.Errorf("request.backlog_capacity must not be negative, got %d", c.Request.BacklogCapacity)
	}
	if c.Shutdown.Grace <= 0 {
		return fmt.Errorf("shutdown.grace must be positive, got %v", c.Shutdown.Grace)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %v", c.TickInterval)
	}
	if c.TickInterval > c.Heartbeat.EvictionThreshold || c.TickInterval > c.Request.Expiry {
		return fmt.Errorf("tick_interval %v must not exceed eviction_threshold %v or request.expiry %v",
			c.TickInterval, c.Heartbeat.EvictionThreshold, c.Request.Expiry)
	}
	if c.Auth.APIURL != "" && c.Auth.Timeout <= 0 {
		return fmt.Errorf("auth.timeout must be positive when auth.api_url is set, got %v", c.Auth.Timeout)
	}
	return nil
}
