// Package config loads ambient operational settings for the server and
// bridge processes: listen address, HTTP timeouts, WebSocket ping interval,
// and bus capacity. It is deliberately not a bridge identity/user/door store
// — that lives in internal/bridgeconfig, next to the secret key material it
// carries.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Relay  RelayConfig  `yaml:"relay"`
}

type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `yaml:"idle_timeout_sec"`
}

// RelayConfig controls the WebSocket session and bus tuning knobs spec.md
// §5 and §9 call out explicitly (ping interval, broadcast capacity). RedisAddr
// is optional: empty keeps the bus process-local, set it to run more than
// one server process behind a load balancer (spec.md §9's horizontal-scaling
// note).
type RelayConfig struct {
	PingIntervalSec int    `yaml:"ping_interval_sec"`
	BusCapacity     int    `yaml:"bus_capacity"`
	RedisAddr       string `yaml:"redis_addr,omitempty"`
}

var (
	current *Config
	once    sync.Once
)

// Get returns the process-wide Config singleton, loading defaults on first
// call. Call LoadConfig first if a YAML file should be layered underneath.
func Get() *Config {
	once.Do(func() {
		current = defaults()
		current.applyEnvOverrides()
	})
	return current
}

// LoadConfig reads a YAML file, falls back to defaults for anything it
// doesn't set, then applies environment overrides on top. It replaces
// whatever Get() would otherwise have lazily initialized.
func LoadConfig(path string) (*Config, error) {
	cfg := defaults()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	current = cfg
	once.Do(func() {}) // short-circuits Get()'s lazy init, current is already set
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeoutSec:  15,
			WriteTimeoutSec: 15,
			IdleTimeoutSec:  60,
		},
		Relay: RelayConfig{
			// 50s: comfortably under the ~60s idle-close window common to
			// intermediate proxies, per spec.md §9's keepalive rationale.
			PingIntervalSec: 50,
			BusCapacity:     16,
		},
	}
}

func (c *Config) applyEnvOverrides() {
	c.Server.Addr = getEnv("D3XS_ADDR", c.Server.Addr)
	c.Server.ReadTimeoutSec = getEnvInt("D3XS_READ_TIMEOUT_SEC", c.Server.ReadTimeoutSec)
	c.Server.WriteTimeoutSec = getEnvInt("D3XS_WRITE_TIMEOUT_SEC", c.Server.WriteTimeoutSec)
	c.Server.IdleTimeoutSec = getEnvInt("D3XS_IDLE_TIMEOUT_SEC", c.Server.IdleTimeoutSec)
	c.Relay.PingIntervalSec = getEnvInt("D3XS_PING_INTERVAL_SEC", c.Relay.PingIntervalSec)
	c.Relay.BusCapacity = getEnvInt("D3XS_BUS_CAPACITY", c.Relay.BusCapacity)
	c.Relay.RedisAddr = getEnv("D3XS_REDIS_ADDR", c.Relay.RedisAddr)
}

// PingInterval is the RelayConfig value as a time.Duration convenience.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Relay.PingIntervalSec) * time.Second
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("config: invalid int override, using default", "key", key, "value", v)
	}
	return defaultVal
}
