package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"SPOTIFY_CLIENT_ID", "SPOTIFY_CLIENT_SECRET", "JUKEBOX_SESSION_KEY", "NGROK_AUTHTOKEN"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadConfigCreatesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	// The default provider needs credentials.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SPOTIFY_CLIENT_ID=id\nSPOTIFY_CLIENT_SECRET=secret\nJUKEBOX_SESSION_KEY=key\n"), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, "id", cfg.Provider.ClientID)
	assert.Equal(t, "key", cfg.Auth.SessionKey)
	assert.Equal(t, time.Second, cfg.Server.PollInterval.Duration)
	assert.Equal(t, "0.0.0.0:8000", cfg.GetAddress())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `inactivity_window = "6h0m0s"`)
	assert.NotContains(t, string(data), `"secret"`, "secrets are never written to the file")
}

func TestLoadConfigFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
driver = "memory"

[rooms]
inactivity_window = "30m"
code_length = 8

[provider]
name = "fake"
state_cache_ttl = "250ms"

[logging]
level = "debug"
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Rooms.InactivityWindow.Duration)
	assert.Equal(t, 8, cfg.Rooms.CodeLength)
	assert.Equal(t, 250*time.Millisecond, cfg.Provider.StateCacheTTL.Duration)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 2, cfg.Rooms.DefaultVotesToSkip, "unset values keep defaults")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig()
		c.Provider.Name = "fake"
		return c
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"EmptyPort", func(c *Config) { c.Server.Port = "" }},
		{"UnknownDriver", func(c *Config) { c.Database.Driver = "postgres" }},
		{"ShortCode", func(c *Config) { c.Rooms.CodeLength = 2 }},
		{"ZeroVotes", func(c *Config) { c.Rooms.DefaultVotesToSkip = 0 }},
		{"UnknownProvider", func(c *Config) { c.Provider.Name = "tidal" }},
		{"SpotifyWithoutCredentials", func(c *Config) { c.Provider.Name = "spotify" }},
		{"InvertedBackoff", func(c *Config) { c.Provider.RetryMin = Duration{2 * time.Second} }},
		{"BadSessionDuration", func(c *Config) { c.Auth.SessionDuration = "forever" }},
		{"BadLogLevel", func(c *Config) { c.Logging.Level = "verbose" }},
		{"BadLogFormat", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
