package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileAbsent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	require.NoError(t, err)

	assert.Equal(t, 4855, cfg.Server.ListenPort)
	assert.Equal(t, 120, cfg.Server.ReadTimeout)
	assert.Equal(t, "lanchat.db", cfg.Database.Path)
	assert.Equal(t, 64, cfg.Limits.SendQueue)
	assert.Equal(t, 60, cfg.Limits.FileSlotTTL)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lanchat.ini")
	content := `[server]
ListenPort = 9100
ReadTimeout = 45

[database]
Path = /var/lib/chat.db

[limits]
SendQueue = 16
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.ListenPort)
	assert.Equal(t, 45, cfg.Server.ReadTimeout)
	assert.Equal(t, "/var/lib/chat.db", cfg.Database.Path)
	assert.Equal(t, 16, cfg.Limits.SendQueue)
	// untouched sections keep their defaults
	assert.Equal(t, 60, cfg.Limits.FileSlotTTL)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LANCHAT_PORT", "7000")
	t.Setenv("LANCHAT_DB_PATH", "override.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.ListenPort)
	assert.Equal(t, "override.db", cfg.Database.Path)
}
