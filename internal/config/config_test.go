package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000/api/v1", cfg.API.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 20, cfg.Poll.PageSize)
	assert.Equal(t, ":8080", cfg.Dashboard.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opsdiag.yaml")
	content := `
api:
  base_url: https://ops.example.com/api
  token: secret
poll:
  interval: 500ms
  page_size: 50
redis:
  addr: localhost:6379
  ttl: 30s
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://ops.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, "secret", cfg.API.Token)
	assert.Equal(t, 500*time.Millisecond, cfg.Poll.Interval)
	assert.Equal(t, 50, cfg.Poll.PageSize)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.Redis.TTL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opsdiag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  base_url: https://file.example.com\n"), 0o600))
	t.Setenv("OPSDIAG_API_BASE_URL", "https://env.example.com")
	t.Setenv("OPSDIAG_POLL_INTERVAL", "10s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Poll.Interval)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			API:  APIConfig{BaseURL: "http://localhost:8000", RateLimit: 1, Burst: 1},
			Poll: PollConfig{Interval: time.Second, PageSize: 10},
			Log:  LogConfig{Level: "info"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"limiter disabled", func(c *Config) { c.API.RateLimit = 0; c.API.Burst = 0 }, true},
		{"missing base url", func(c *Config) { c.API.BaseURL = "" }, false},
		{"relative base url", func(c *Config) { c.API.BaseURL = "/api" }, false},
		{"negative rate", func(c *Config) { c.API.RateLimit = -1 }, false},
		{"zero burst", func(c *Config) { c.API.Burst = 0 }, false},
		{"zero interval", func(c *Config) { c.Poll.Interval = 0 }, false},
		{"zero page size", func(c *Config) { c.Poll.PageSize = 0 }, false},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
