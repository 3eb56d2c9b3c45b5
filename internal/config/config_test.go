package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("CT_TOKEN", "secret-token")
	path := writeConfig(t, `
churchtools:
  host: ct.example.org
  login_token: ${CT_TOKEN}
salto:
  base_url: https://salto.example.org
  username: operator
  password: pw
database:
  path: `+filepath.Join(t.TempDir(), "sync.db")+`
sync:
  interval_seconds: 120
  prehold_hours: 8
  posthold_hours: 1
rooms:
  - resource_id: 1
    zone_id: ZoneA
  - resource_id: 2
    zone_id: ZoneB
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ct.example.org", cfg.ChurchTools.Host)
	assert.Equal(t, "secret-token", cfg.ChurchTools.LoginToken, "env placeholder must expand")
	assert.Equal(t, "SALTO_ALLOW_", cfg.ChurchTools.GroupTokenPrefix, "default prefix")
	assert.Equal(t, 2*time.Minute, cfg.SyncInterval())
	assert.Equal(t, 8*time.Hour, cfg.Prehold())
	assert.Equal(t, time.Hour, cfg.Posthold())
	assert.Equal(t, map[int64]string{1: "ZoneA", 2: "ZoneB"}, cfg.RoomZones())
	assert.Equal(t, []int64{1, 2}, cfg.ResourceIDs())
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
churchtools:
  host: ct.example.org
  login_token: t
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.SyncInterval())
	assert.Equal(t, 24*time.Hour, cfg.Prehold())
	assert.Equal(t, 2*time.Hour, cfg.Posthold())
	assert.Equal(t, "data/saltosync.db", cfg.Database.Path)
	t.Cleanup(func() { os.RemoveAll("data") })
}

func TestLoadRequiresHost(t *testing.T) {
	path := writeConfig(t, `
churchtools:
  login_token: t
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "churchtools.host")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
