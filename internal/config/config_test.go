package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/cpufreqctl/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cpufreqctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"
listen = "127.0.0.1:9000"
settings = "/tmp/cpufreqctl-test/settings.json"
actions = "/tmp/cpufreqctl-test/actions.json"
history = true
history_db = "/tmp/cpufreqctl-test/history.db"
pid_file = "/tmp/cpufreqctl-test.pid"
watch = false
`)
	t.Setenv("CPUFREQCTL_CONFIG", path)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "/tmp/cpufreqctl-test/settings.json", cfg.Settings)
	assert.Equal(t, "/tmp/cpufreqctl-test/actions.json", cfg.Actions)
	assert.True(t, cfg.History)
	assert.Equal(t, "/tmp/cpufreqctl-test/history.db", cfg.HistoryDB)
	assert.Equal(t, "/tmp/cpufreqctl-test.pid", cfg.PIDFile)
	assert.False(t, cfg.Watch)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CPUFREQCTL_CONFIG", "")

	cfg, err := config.Load([]string{})
	require.NoError(t, err)

	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, config.DefaultListen, cfg.Listen)
	assert.True(t, cfg.History)
	assert.True(t, cfg.Watch)
	assert.Equal(t, "settings.json", filepath.Base(cfg.Settings))
	assert.Equal(t, "trigger_actions.json", filepath.Base(cfg.Actions))
	assert.Equal(t, "cpufreqctl.pid", filepath.Base(cfg.PIDFile))
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	path := writeConfig(t, `
This is not a valid TOML file
`)
	t.Setenv("CPUFREQCTL_CONFIG", path)

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read configuration")
}

func TestInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
log_level = "invalid"
`)
	t.Setenv("CPUFREQCTL_CONFIG", path)

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid log level")
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
log_level = "error"
listen = "127.0.0.1:9000"
`)

	cfg, err := config.Load([]string{"--config", path, "--log-level", "debug", "--listen", ""})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel to be set by flag")
	assert.Empty(t, cfg.Listen, "Expected empty listen to disable the API")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
history_db = "/from/file.db"
`)
	t.Setenv("CPUFREQCTL_CONFIG", path)
	t.Setenv("CPUFREQCTL_HISTORY_DB", "/from/env.db")

	cfg, err := config.Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "/from/env.db", cfg.HistoryDB)
}

func TestUnknownFlag(t *testing.T) {
	t.Setenv("CPUFREQCTL_CONFIG", "")

	_, err := config.Load([]string{"--temperature", "80"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to bind flags")
}
