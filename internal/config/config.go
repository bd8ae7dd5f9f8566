// Package config loads replica settings from layered YAML files and checks
// them against an embedded CUE schema.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/replica/internal/protocol"
)

// Config is the complete replica configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Server  ServerConfig  `yaml:"server"`
	Sync    SyncConfig    `yaml:"sync"`
	Session SessionConfig `yaml:"session"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StoreConfig locates the local replica.
type StoreConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// ServerConfig addresses the sync server. Empty URLs disable the
// matching loop.
type ServerConfig struct {
	// URL is the base URL mutations are pushed to.
	URL string `yaml:"url"`
	// WebSocketURL is the endpoint synchronizers are pulled from.
	WebSocketURL string `yaml:"websocket_url"`
	// Token is sent as a bearer token. REPLICA_TOKEN overrides it.
	Token string `yaml:"token"`
	// Timeout bounds one push request.
	Timeout time.Duration `yaml:"timeout"`
}

// SyncConfig tunes the push and pull loops.
type SyncConfig struct {
	BatchSize      int           `yaml:"batch_size"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	// Synchronizers lists the keys pulled at startup, e.g. "users" or
	// "nodes.updates:sp01...".
	Synchronizers []string `yaml:"synchronizers"`
}

// SessionConfig identifies this client.
type SessionConfig struct {
	UserID string `yaml:"user_id"`
	// ReplicaID authors local text edits. Empty picks a fresh one per run.
	ReplicaID string `yaml:"replica_id"`
}

// MetricsConfig exposes Prometheus metrics.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables it.
	Addr string `yaml:"addr"`
}

// TokenEnv overrides Server.Token.
const TokenEnv = "REPLICA_TOKEN"

// DefaultConfig returns a Config with defaults filled in.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "replica.db",
		},
		Server: ServerConfig{
			Timeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			BatchSize:      50,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     time.Minute,
		},
	}
}

// Validate checks c against the schema and the cross-field rules the
// schema cannot express.
func (c *Config) Validate() error {
	if err := validateSchema(c); err != nil {
		return err
	}
	if c.Sync.MaxBackoff < c.Sync.InitialBackoff {
		return &ValidationError{Field: "sync.max_backoff", Message: "must not be below sync.initial_backoff"}
	}
	for _, key := range c.Sync.Synchronizers {
		if _, err := protocol.ParseKey(key); err != nil {
			return &ValidationError{Field: "sync.synchronizers", Message: err.Error()}
		}
	}
	return nil
}

// SynchronizerInputs parses Sync.Synchronizers.
func (c *Config) SynchronizerInputs() ([]protocol.Synchronizer, error) {
	out := make([]protocol.Synchronizer, 0, len(c.Sync.Synchronizers))
	for _, key := range c.Sync.Synchronizers {
		s, err := protocol.ParseKey(key)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// LoadFromFile reads one YAML layer. Fields the file omits stay zero, so
// merging the layer leaves them alone. Unknown keys are rejected.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// SaveToFile writes c as YAML, creating parent directories.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Merge overlays the non-zero fields of other onto c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}

	if other.Server.URL != "" {
		c.Server.URL = other.Server.URL
	}
	if other.Server.WebSocketURL != "" {
		c.Server.WebSocketURL = other.Server.WebSocketURL
	}
	if other.Server.Token != "" {
		c.Server.Token = other.Server.Token
	}
	if other.Server.Timeout != 0 {
		c.Server.Timeout = other.Server.Timeout
	}

	if other.Sync.BatchSize != 0 {
		c.Sync.BatchSize = other.Sync.BatchSize
	}
	if other.Sync.InitialBackoff != 0 {
		c.Sync.InitialBackoff = other.Sync.InitialBackoff
	}
	if other.Sync.MaxBackoff != 0 {
		c.Sync.MaxBackoff = other.Sync.MaxBackoff
	}
	if len(other.Sync.Synchronizers) > 0 {
		c.Sync.Synchronizers = other.Sync.Synchronizers
	}

	if other.Session.UserID != "" {
		c.Session.UserID = other.Session.UserID
	}
	if other.Session.ReplicaID != "" {
		c.Session.ReplicaID = other.Session.ReplicaID
	}

	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
}
