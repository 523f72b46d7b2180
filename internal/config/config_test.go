package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const validYAML = `
default: primary
servers:
  primary:
    host: 0.0.0.0
    port: 6001
    scaling:
      enabled: true
      channel: broker
      server:
        url: redis://localhost:6379
        timeout_sec: 3
apps:
  provider: config
  apps:
    - app_id: app1
      key: key1
      secret: "${TEST_APP_SECRET}"
      ping_interval: 120
      activity_timeout: 30
`

func TestLoadParsesAndValidatesAWellFormedFile(t *testing.T) {
	t.Setenv("TEST_APP_SECRET", "resolved-secret")
	path := writeConfig(t, validYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Apps.Apps, 1)
	assert.Equal(t, "resolved-secret", cfg.Apps.Apps[0].Secret, "${VAR} secrets must be expanded against the environment")

	server, ok := cfg.Server("")
	require.True(t, ok)
	assert.Equal(t, 6001, server.Port)

	busCfg, enabled := server.BusConfig()
	assert.True(t, enabled)
	assert.Equal(t, "redis://localhost:6379", busCfg.URL)
}

func TestLoadRejectsUnknownDefaultServer(t *testing.T) {
	path := writeConfig(t, `
default: missing
servers:
  primary:
    host: 0.0.0.0
    port: 6001
apps:
  provider: config
  apps:
    - app_id: app1
      key: key1
      secret: s
      ping_interval: 120
      activity_timeout: 30
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeConfig(t, `
default: primary
servers:
  primary:
    host: 0.0.0.0
    port: 6001
apps:
  provider: config
  apps:
    - app_id: app1
      key: key1
`)
	_, err := Load(path)
	require.Error(t, err, "missing secret/ping_interval/activity_timeout must fail validation")
}

func TestLoadRejectsNonConfigProvider(t *testing.T) {
	path := writeConfig(t, `
default: primary
servers:
  primary:
    host: 0.0.0.0
    port: 6001
apps:
  provider: database
  apps:
    - app_id: app1
      key: key1
      secret: s
      ping_interval: 120
      activity_timeout: 30
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.Error(t, err)
}

func TestBusConfigDisabledWhenScalingNotEnabled(t *testing.T) {
	path := writeConfig(t, `
default: primary
servers:
  primary:
    host: 0.0.0.0
    port: 6001
apps:
  provider: config
  apps:
    - app_id: app1
      key: key1
      secret: s
      ping_interval: 120
      activity_timeout: 30
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	server, ok := cfg.Server("primary")
	require.True(t, ok)
	_, enabled := server.BusConfig()
	assert.False(t, enabled)
}

func TestApplicationsConvertsEveryConfiguredApp(t *testing.T) {
	path := writeConfig(t, `
default: primary
servers:
  primary:
    host: 0.0.0.0
    port: 6001
apps:
  provider: config
  apps:
    - app_id: app1
      key: key1
      secret: s1
      ping_interval: 120
      activity_timeout: 30
      max_connections: 100
    - app_id: app2
      key: key2
      secret: s2
      ping_interval: 60
      activity_timeout: 15
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	apps := cfg.Applications()
	require.Len(t, apps, 2)
	assert.Equal(t, "app1", apps[0].AppID)
	assert.Equal(t, 100, apps[0].MaxConnections)
	assert.Equal(t, 60, apps[1].PingIntervalSec)
}
