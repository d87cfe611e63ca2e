package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/liveclass/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Prefix string
	}

	Heartbeat struct {
		IntervalSeconds int
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
http:
  port: 9090
`)

	var c testConfig
	c.HTTP.Port = 8080
	c.Redis.Prefix = "liveclass"
	c.Heartbeat.IntervalSeconds = 5

	require.NoError(t, config.Load(path, &c))

	assert.Equal(t, int32(9090), c.HTTP.Port, "the file overrides the default")
	assert.Equal(t, "liveclass", c.Redis.Prefix, "unset keys keep their defaults")
	assert.Equal(t, 5, c.Heartbeat.IntervalSeconds)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("REDIS_PREFIX", "classroom")

	path := writeConfig(t, `
redis:
  prefix: from-file
`)

	var c testConfig
	require.NoError(t, config.Load(path, &c))

	assert.Equal(t, "classroom", c.Redis.Prefix)
}

func TestLoad_MissingFile(t *testing.T) {
	var c testConfig
	assert.Error(t, config.Load(filepath.Join(t.TempDir(), "nope.yaml"), &c))
}
