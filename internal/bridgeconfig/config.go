// Package bridgeconfig loads the bridge's own local configuration: its
// secret key, the URL of the server it dials out to, and its private view
// of users and doors (including door MAC addresses and per-door public
// keys, which the server and browser clients never see). Grounded on
// original_source/bridge/src/config.rs; loaded as YAML rather than TOML,
// and with no command-line flag surface, per spec.md's stated Non-goals —
// the ambient need for "some way to load this" is still met, just not
// through the excluded TOML/CLI path.
package bridgeconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/kpcyrd/d3xs/internal/protocol"
)

// Config is the bridge's full local configuration.
type Config struct {
	System Bridge          `yaml:"system"`
	Users  map[string]User `yaml:"users"`
	Doors  map[string]Door `yaml:"doors"`
}

// Bridge carries the bridge's own identity and dial target.
type Bridge struct {
	SecretKey string `yaml:"secret_key"`
	URL       string `yaml:"url,omitempty"`
}

// User mirrors a user's entry in the bridge's table: which doors they may
// open, plus the public key the bridge challenges them with over the
// server relay.
type User struct {
	PublicKey string   `yaml:"public_key"`
	Authorize []string `yaml:"authorize"`
}

// Door carries everything the bridge needs to actuate a physical door: its
// label, its BLE MAC (absent for doors with no BLE hop configured yet),
// and the door's own public key for the bridge<->door challenge.
type Door struct {
	Label     string `yaml:"label"`
	MAC       string `yaml:"mac,omitempty"`
	PublicKey string `yaml:"public_key,omitempty"`
}

// LoadFromPath reads and parses a bridge config file from disk.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bridgeconfig: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bridge config bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("bridgeconfig: parse: %w", err)
	}
	return &cfg, nil
}

// SecretKey decodes the bridge's own secret key.
func (c *Config) SecretKey() (*[protocol.KeySize]byte, error) {
	return protocol.DecodeKey(c.System.SecretKey)
}

// ToSharedConfig derives the subset of this configuration the server (and,
// through it, every browser client) is allowed to see: the bridge's own
// public key plus each user's authorize list and each door's label. Door
// MACs, door public keys and user public keys never leave the bridge.
func (c *Config) ToSharedConfig() (*protocol.Config, error) {
	secret, err := c.SecretKey()
	if err != nil {
		return nil, err
	}
	pub, err := protocol.PublicKeyFor(secret)
	if err != nil {
		return nil, err
	}

	shared := &protocol.Config{
		PublicKey: protocol.EncodeKey(pub),
		Users:     make(map[string]protocol.User, len(c.Users)),
		Doors:     make(map[string]protocol.Door, len(c.Doors)),
	}
	for id, u := range c.Users {
		shared.Users[id] = protocol.User{Authorize: u.Authorize}
	}
	for id, d := range c.Doors {
		shared.Doors[id] = protocol.Door{Label: d.Label}
	}
	return shared, nil
}
