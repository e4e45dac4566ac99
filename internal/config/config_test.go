package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
[jwt]
hmac_secret = "shh"
`))
	require.NoError(t, err)
	require.Equal(t, ":3000", cfg.BindAddr)
	require.Equal(t, "./data", cfg.DataDir)
	require.Equal(t, int64(1_000_000), cfg.EnergyPerCall)
	require.Equal(t, int64(64<<20), cfg.WALSegmentBytes)
	require.Equal(t, 5*time.Minute, cfg.SnapshotInterval)
	require.Equal(t, 256, cfg.SendQueueDepth)
	require.Equal(t, "HS256", cfg.JWT.Algorithm)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
bind_addr = "0.0.0.0:8080"
data_dir = "/var/lib/stdb"
energy_per_call = 500000
wal_segment_bytes = 1048576
snapshot_interval = "30s"
send_queue_depth = 64

[jwt]
algorithm = "RS256"
public_key_file = "/etc/stdb/jwt.pem"
`))
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8080", cfg.BindAddr)
	require.Equal(t, "/var/lib/stdb", cfg.DataDir)
	require.Equal(t, int64(500000), cfg.EnergyPerCall)
	require.Equal(t, int64(1048576), cfg.WALSegmentBytes)
	require.Equal(t, 30*time.Second, cfg.SnapshotInterval)
	require.Equal(t, 64, cfg.SendQueueDepth)
	require.Equal(t, "RS256", cfg.JWT.Algorithm)
	require.Equal(t, "/etc/stdb/jwt.pem", cfg.JWT.PublicKeyFile)
}

func TestParseRejectsBadSnapshotInterval(t *testing.T) {
	_, err := Parse(strings.NewReader(`
snapshot_interval = "not-a-duration"
[jwt]
hmac_secret = "shh"
`))
	require.Error(t, err)
}

func TestParseRequiresHMACSecretForHS256(t *testing.T) {
	_, err := Parse(strings.NewReader(``))
	require.Error(t, err)
	require.Contains(t, err.Error(), "hmac_secret")
}

func TestParseRejectsUnknownAlgorithm(t *testing.T) {
	_, err := Parse(strings.NewReader(`
[jwt]
algorithm = "ES256"
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported jwt.algorithm")
}

func TestParseRequiresPublicKeyFileForRS256(t *testing.T) {
	_, err := Parse(strings.NewReader(`
[jwt]
algorithm = "RS256"
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "public_key_file")
}
