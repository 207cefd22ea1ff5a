// Package config loads a lockring node's static topology and tuning
// parameters from a YAML file, the way its peers in a cluster must agree
// on node_id/peers/region_peers before Raft can bootstrap.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LockConfig holds the acquire-timeout bounds from the spec's
// configuration table.
type LockConfig struct {
	DefaultTimeoutMs int64 `yaml:"default_timeout_ms"`
	MinTimeoutMs     int64 `yaml:"min_timeout_ms"`
	MaxTimeoutMs     int64 `yaml:"max_timeout_ms"`
}

// Config is a single node's full configuration.
type Config struct {
	NodeID              string     `yaml:"node_id"`
	RegionID            string     `yaml:"region_id"`
	BindAddr            string     `yaml:"bind_addr"`
	APIAddr             string     `yaml:"api_addr"`
	Peers               []string   `yaml:"peers"`
	RegionPeers         []string   `yaml:"region_peers"`
	ElectionTimeoutMs   int64      `yaml:"election_timeout_ms"`
	HeartbeatIntervalMs int64      `yaml:"heartbeat_interval_ms"`
	DataDir             string     `yaml:"data_dir"`
	Lock                LockConfig `yaml:"lock"`
}

// Load reads and parses a YAML config file from path, then applies
// defaults for any zero-valued fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in every unset field with the defaults named in the
// spec's configuration table.
func (c *Config) ApplyDefaults() {
	if c.RegionID == "" {
		c.RegionID = "default"
	}
	if c.ElectionTimeoutMs == 0 {
		c.ElectionTimeoutMs = 150
	}
	if c.HeartbeatIntervalMs == 0 {
		c.HeartbeatIntervalMs = 50
	}
	if c.Lock.DefaultTimeoutMs == 0 {
		c.Lock.DefaultTimeoutMs = 30000
	}
	if c.Lock.MinTimeoutMs == 0 {
		c.Lock.MinTimeoutMs = 1000
	}
	if c.Lock.MaxTimeoutMs == 0 {
		c.Lock.MaxTimeoutMs = 300000
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
}

// ClampTimeout applies the preflight timeout clamp from the spec's
// AcquireLock validation: a zero requested timeout falls back to the
// default, and anything outside [min, max] is pulled back into range.
func (c *Config) ClampTimeout(requestedMs int64) int64 {
	if requestedMs <= 0 {
		return c.Lock.DefaultTimeoutMs
	}
	if requestedMs < c.Lock.MinTimeoutMs {
		return c.Lock.MinTimeoutMs
	}
	if requestedMs > c.Lock.MaxTimeoutMs {
		return c.Lock.MaxTimeoutMs
	}
	return requestedMs
}
