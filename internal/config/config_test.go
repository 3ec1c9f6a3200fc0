package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apidouble.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, "mock", cfg.Server.Mode)
	assert.Equal(t, "lowdb", cfg.Storage.Type)
	assert.Equal(t, "./mocks/db.json", cfg.Storage.Path)
	assert.True(t, cfg.CORSEnabled())
	assert.False(t, cfg.Chaos.Enabled)
	assert.Equal(t, "smart", cfg.Matching.Strategy)
}

func TestLoadOverridesAndIgnoresUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 4000
  mode: proxy
target:
  url: http://localhost:8080
  timeout: 5
storage:
  type: sqlite
  path: ./data/mocks.db
cors:
  enabled: false
matching:
  strategy: fuzzy
  ignoreHeaders: [x-trace]
someFutureKey: whatever
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "proxy", cfg.Server.Mode)
	assert.Equal(t, "http://localhost:8080", cfg.Target.URL)
	assert.Equal(t, 5, cfg.Target.Timeout)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.False(t, cfg.CORSEnabled())
	assert.Equal(t, []string{"x-trace"}, cfg.Matching.IgnoreHeaders)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"bad mode":                 "server:\n  mode: psychic\n",
		"forward without target":   "server:\n  mode: proxy\n",
		"bad storage":              "storage:\n  type: oracle\n",
		"bad strategy":             "matching:\n  strategy: psychic\n",
		"bad chaos latency":        "chaos:\n  enabled: true\n  latency:\n    min: 10\n    max: 5\n",
		"chaos error rate too big": "chaos:\n  enabled: true\n  errorRate: 150\n",
		"port out of range":        "server:\n  port: 99999\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}
