package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsArePopulated(t *testing.T) {
	cfg := defaults()
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 50, cfg.Relay.PingIntervalSec)
	assert.Equal(t, 16, cfg.Relay.BusCapacity)
	assert.Empty(t, cfg.Relay.RedisAddr)
}

func TestEnvOverridesWinOverDefaults(t *testing.T) {
	t.Setenv("D3XS_ADDR", ":9090")
	t.Setenv("D3XS_BUS_CAPACITY", "32")
	t.Setenv("D3XS_REDIS_ADDR", "localhost:6379")

	cfg := defaults()
	cfg.applyEnvOverrides()

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 32, cfg.Relay.BusCapacity)
	assert.Equal(t, "localhost:6379", cfg.Relay.RedisAddr)
}

func TestLoadConfigParsesYAMLOverDefaults(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "d3xs-config-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("server:\n  addr: \":7070\"\nrelay:\n  bus_capacity: 4\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := LoadConfig(f.Name())
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Relay.BusCapacity)
	// Untouched by the file, should still carry its default.
	assert.Equal(t, 50, cfg.Relay.PingIntervalSec)
}
