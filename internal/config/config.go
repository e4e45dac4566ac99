// Package config loads the host process's stdb.toml configuration,
// the way Pieczasz-smf's internal/parser/toml package loads a TOML
// schema file: decode into an unexported TOML-tagged shape, then
// convert and validate into the struct the rest of the program uses.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the host process's full runtime configuration, loaded
// once at startup from stdb.toml.
type Config struct {
	// BindAddr is the address the WebSocket/HTTP server listens on.
	BindAddr string

	// DataDir is the root directory under which each database gets its
	// own subdirectory (internal/storage/txn.Open's dir argument).
	DataDir string

	// EnergyPerCall is the default energy budget for a reducer call,
	// overridable per database (not yet exposed here; see Open
	// Questions).
	EnergyPerCall int64

	// WALSegmentBytes is parsed and defaulted but not read by any
	// component; the WAL writer does not roll segments by size.
	WALSegmentBytes int64

	// SnapshotInterval is parsed, defaulted and validated but not read
	// by any component; nothing schedules Snapshotter.Checkpoint.
	SnapshotInterval time.Duration

	// SendQueueDepth bounds a WebSocket session's outgoing frame queue
	// (internal/session.Server.QueueCapacity).
	SendQueueDepth int

	// JWT names the signing method and key material used to verify an
	// incoming bearer token.
	JWT JWTConfig
}

// JWTConfig describes how to verify a client's bearer token.
type JWTConfig struct {
	// Algorithm is "HS256" or "RS256".
	Algorithm string

	// HMACSecret is the shared secret for HS256.
	HMACSecret string

	// PublicKeyFile is a PEM-encoded RSA public key file for RS256.
	PublicKeyFile string
}

type tomlConfig struct {
	BindAddr         string  `toml:"bind_addr"`
	DataDir          string  `toml:"data_dir"`
	EnergyPerCall    int64   `toml:"energy_per_call"`
	WALSegmentBytes  int64   `toml:"wal_segment_bytes"`
	SnapshotInterval string  `toml:"snapshot_interval"`
	SendQueueDepth   int     `toml:"send_queue_depth"`
	JWT              tomlJWT `toml:"jwt"`
}

type tomlJWT struct {
	Algorithm     string `toml:"algorithm"`
	HMACSecret    string `toml:"hmac_secret"`
	PublicKeyFile string `toml:"public_key_file"`
}

// defaults supplies the value of every key the TOML input leaves unset.
func defaults() tomlConfig {
	return tomlConfig{
		BindAddr:         ":3000",
		DataDir:          "./data",
		EnergyPerCall:    1_000_000,
		WALSegmentBytes:  64 << 20,
		SnapshotInterval: "5m",
		SendQueueDepth:   256,
		JWT:              tomlJWT{Algorithm: "HS256"},
	}
}

// Load reads and validates the TOML config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: open %q", path)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes TOML from r, applying defaults for anything left
// unset.
func Parse(r io.Reader) (*Config, error) {
	tc := defaults()
	if _, err := toml.NewDecoder(r).Decode(&tc); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}
	return tc.convert()
}

func (tc tomlConfig) convert() (*Config, error) {
	interval, err := time.ParseDuration(tc.SnapshotInterval)
	if err != nil {
		return nil, errors.Wrapf(err, "config: snapshot_interval %q", tc.SnapshotInterval)
	}

	cfg := &Config{
		BindAddr:         tc.BindAddr,
		DataDir:          tc.DataDir,
		EnergyPerCall:    tc.EnergyPerCall,
		WALSegmentBytes:  tc.WALSegmentBytes,
		SnapshotInterval: interval,
		SendQueueDepth:   tc.SendQueueDepth,
		JWT: JWTConfig{
			Algorithm:     tc.JWT.Algorithm,
			HMACSecret:    tc.JWT.HMACSecret,
			PublicKeyFile: tc.JWT.PublicKeyFile,
		},
	}
	return cfg, cfg.preflight()
}

// preflight validates the decoded configuration, in the style of the
// teacher's logical.Config.Preflight.
func (c *Config) preflight() error {
	if c.BindAddr == "" {
		return errors.New("config: bind_addr unset")
	}
	if c.DataDir == "" {
		return errors.New("config: data_dir unset")
	}
	if c.EnergyPerCall <= 0 {
		return errors.New("config: energy_per_call must be positive")
	}
	switch c.JWT.Algorithm {
	case "HS256":
		if c.JWT.HMACSecret == "" {
			return errors.New("config: jwt.hmac_secret required for HS256")
		}
	case "RS256":
		if c.JWT.PublicKeyFile == "" {
			return errors.New("config: jwt.public_key_file required for RS256")
		}
	default:
		return fmt.Errorf("config: unsupported jwt.algorithm %q", c.JWT.Algorithm)
	}
	return nil
}
