package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the ctxrouter config dir inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "ctxrouter")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func TestLoadWithFile_Defaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 15*time.Millisecond, cfg.Analyzer.Budget.Duration())
	assert.Equal(t, 150*time.Millisecond, cfg.Router.Budget.Duration())
	assert.Equal(t, 3, cfg.Router.MaxProviders)
	assert.Equal(t, 20, cfg.Cache.HotCapacity)
	assert.Equal(t, 100, cfg.Cache.WarmCapacity)
	assert.Equal(t, 30*time.Minute, cfg.Cache.DocumentationTTL.Duration())
	assert.Equal(t, 60*time.Minute, cfg.Cache.PatternTTL.Duration())
	assert.Equal(t, 15*time.Minute, cfg.Cache.IntelligenceTTL.Duration())
	assert.Equal(t, 50, cfg.Learning.Window)
	assert.Equal(t, 5, cfg.Learning.MinEvents)
	assert.InDelta(t, 0.3, cfg.Learning.Alpha, 1e-9)
	assert.InDelta(t, 0.4, cfg.Compression.AdaptationFloor, 1e-9)
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")

	yamlContent := `server:
  port: 9300
  rate_limit: 5
router:
  budget: 80ms
  max_providers: 2
cache:
  hot_capacity: 4
  pattern_ttl: 2h
learning:
  nats_url: nats://127.0.0.1:4222
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9300, cfg.Server.Port)
	assert.InDelta(t, 5.0, cfg.Server.RateLimit, 1e-9)
	assert.Equal(t, 80*time.Millisecond, cfg.Router.Budget.Duration())
	assert.Equal(t, 2, cfg.Router.MaxProviders)
	assert.Equal(t, 4, cfg.Cache.HotCapacity)
	assert.Equal(t, 2*time.Hour, cfg.Cache.PatternTTL.Duration())
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Learning.NATSURL)
	// untouched sections still get defaults
	assert.Equal(t, 100, cfg.Cache.WarmCapacity)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9300\n"), 0600))

	t.Setenv("CTXROUTER_SERVER_PORT", "9400")
	t.Setenv("CTXROUTER_CACHE_HOT_CAPACITY", "7")
	t.Setenv("CTXROUTER_LEARNING_NATS_SUBJECT", "team.learning")
	t.Setenv("CTXROUTER_ROUTER_BUDGET", "80")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9400, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Cache.HotCapacity)
	assert.Equal(t, "team.learning", cfg.Learning.NATSSubject)
	assert.Equal(t, 80*time.Millisecond, cfg.Router.Budget.Duration())
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	outside := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("server:\n  port: 9300\n"), 0600))

	_, err := LoadWithFile(outside)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9300\n"), 0644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_InvalidValues(t *testing.T) {
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("learning:\n  alpha: 1.5\n"), 0600))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "learning alpha")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"CTXROUTER_SERVER_PORT":        "server.port",
		"CTXROUTER_CACHE_HOT_CAPACITY": "cache.hot_capacity",
		"CTXROUTER_LEARNING_NATS_URL":  "learning.nats_url",
		"CTXROUTER_DEBUG":              "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ExpandPath("~/data/cache.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "cache.db"), got)

	got, err = ExpandPath("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("250ms")))
	assert.Equal(t, 250*time.Millisecond, d.Duration())

	require.NoError(t, d.UnmarshalText([]byte("80")))
	assert.Equal(t, 80*time.Millisecond, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5")))
	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero max providers", func(c *Config) { c.Router.MaxProviders = 0 }},
		{"floor above one", func(c *Config) { c.Compression.AdaptationFloor = 1.2 }},
		{"zero window", func(c *Config) { c.Learning.Window = 0 }},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
