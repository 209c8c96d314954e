package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8008", cfg.Listen)
	require.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Equal(t, "scantrack.db", cfg.Storage.SQLitePath)
	require.Equal(t, "fs", cfg.Tracker.Backend)
	require.False(t, cfg.Tracker.Enabled)
	require.True(t, cfg.Metrics.Enabled)
	require.False(t, cfg.Tracing.Enabled)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scantrack.toml")
	content := `
listen = ":9009"

[storage]
driver = "postgres"
postgres_dsn = "postgres://scantrack@db/scantrack"

[tracker]
enabled = true
backend = "s3"

[tracker.s3]
bucket = "beamline-markers"
region = "eu-west-2"
path_style = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9009", cfg.Listen)
	require.Equal(t, "postgres", cfg.Storage.Driver)
	require.Equal(t, "postgres://scantrack@db/scantrack", cfg.Storage.PostgresDSN)
	require.True(t, cfg.Tracker.Enabled)
	require.Equal(t, "s3", cfg.Tracker.Backend)
	require.Equal(t, "beamline-markers", cfg.Tracker.S3.Bucket)
	require.True(t, cfg.Tracker.S3.PathStyle)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SCANTRACK_STORAGE_DRIVER", "memory")
	t.Setenv("SCANTRACK_LISTEN", ":7007")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, ":7007", cfg.Listen)
}
