package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "boardreplica.yaml", `
history_limit: 20
server_url: https://boards.example.com
workspace_id: team
reconnect_interval: 250ms
tombstone_retention: 1h
log_level: debug
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.HistoryLimit)
	assert.Equal(t, "https://boards.example.com", cfg.ServerURL)
	assert.Equal(t, "team", cfg.WorkspaceID)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectInterval)
	assert.Equal(t, time.Hour, cfg.TombstoneRetention)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, DefaultDatabase, cfg.Database, "unset keys keep defaults")
}

func TestLoad_JSONFile(t *testing.T) {
	path := writeFile(t, "boardreplica.json", `{"listen": ":9000", "user": "alice"}`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "alice", cfg.User)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, "boardreplica.yaml", "history_limit: 20\nlisten: \":7000\"\n")
	t.Setenv("BOARDREPLICA_HISTORY_LIMIT", "30")
	t.Setenv("BOARDREPLICA_DATABASE", "/tmp/env.db")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("history-limit", 0, "")
	flags.String("listen", "", "")
	require.NoError(t, flags.Parse([]string{"--history-limit=40"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.HistoryLimit, "a set flag beats env and file")
	assert.Equal(t, "/tmp/env.db", cfg.Database, "env beats defaults")
	assert.Equal(t, ":7000", cfg.Listen, "an unset flag does not override the file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"zero history", func(c *Config) { c.HistoryLimit = 0 }, "history_limit"},
		{"no database", func(c *Config) { c.Database = "" }, "database"},
		{"bad url", func(c *Config) { c.ServerURL = "localhost:8000" }, "server_url"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"zero reconnect", func(c *Config) { c.ReconnectInterval = 0 }, "reconnect_interval"},
		{"negative retention", func(c *Config) { c.TombstoneRetention = -time.Second }, "tombstone_retention"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidFileValue(t *testing.T) {
	path := writeFile(t, "boardreplica.yaml", "history_limit: -1\n")
	_, err := Load(path, nil)
	assert.ErrorIs(t, err, ErrInvalid)
}
