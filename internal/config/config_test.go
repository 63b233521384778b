package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test from an empty directory so no stray .env or
// creel.yaml is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "wdfw_creel_data/creel_data.db", cfg.DB.Path)
	assert.Equal(t, 30*time.Second, cfg.Source.Timeout)
	assert.Equal(t, 100, cfg.Collector.StormThreshold)
	assert.Equal(t, 2013, cfg.Collector.BaselineYear)
	assert.Equal(t, 24*time.Hour, cfg.Update.Cooldown)
	assert.Empty(t, cfg.Update.Cron)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "creel_data.db", cfg.Blob.Object)
	assert.False(t, cfg.Blob.Enabled())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.ConfigFile)
}

func TestLoadFromEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("CREEL_DB_PATH", "/data/creel.db")
	t.Setenv("CREEL_UPDATE_COOLDOWN", "6h")
	t.Setenv("CREEL_COLLECTOR_STORM_THRESHOLD", "250")
	t.Setenv("CREEL_BLOB_ENDPOINT", "minio:9000")
	t.Setenv("CREEL_BLOB_BUCKET", "creel")
	t.Setenv("CREEL_BLOB_USE_SSL", "false")
	t.Setenv("CREEL_TELEGRAM_ADMIN_CHAT_ID", "-100123")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/data/creel.db", cfg.DB.Path)
	assert.Equal(t, 6*time.Hour, cfg.Update.Cooldown)
	assert.Equal(t, 250, cfg.Collector.StormThreshold)
	assert.True(t, cfg.Blob.Enabled())
	assert.False(t, cfg.Blob.UseSSL)
	assert.EqualValues(t, -100123, cfg.Telegram.AdminChatID)
}

func TestLoadLegacyAliases(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "9090")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-token")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "tg-token", cfg.Telegram.Token)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)

	t.Setenv("CREEL_SERVER_PORT", "7070")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db:
  path: /srv/creel.db
update:
  cron: "@every 6h"
log:
  format: json
`), 0o644))

	t.Setenv("CREEL_LOG_FORMAT", "console")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/creel.db", cfg.DB.Path)
	assert.Equal(t, "@every 6h", cfg.Update.Cron)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestLoadDefaultConfigFileInWorkingDir(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "creel.yaml"), []byte("server:\n  port: 8181\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Server.Port)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	_, err := Load(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := isolate(t)
	// Registers cleanup so the variable godotenv sets is removed afterwards
	t.Setenv("CREEL_SOURCE_USER_AGENT", "")
	require.NoError(t, os.Unsetenv("CREEL_SOURCE_USER_AGENT"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CREEL_SOURCE_USER_AGENT=from-dotenv\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Source.UserAgent)
}

func TestValidate(t *testing.T) {
	isolate(t)
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.DB.Path = ""
	bad.Server.Port = 0
	bad.Collector.BaselineYear = 13
	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db.path")
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "baseline_year")

	t.Setenv("CREEL_SERVER_PORT", "70000")
	_, err = Load("")
	assert.Error(t, err)
}
