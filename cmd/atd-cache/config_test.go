package main

import (
	"os"
	"path/filepath"
	"testing"

	atdcache "github.com/santimwamba/ATD---Artificial-Technology-Development"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	filename := filepath.Join(t.TempDir(), "atd.yml")
	require.NoError(t, os.WriteFile(filename, []byte(content), 0644))
	return filename
}

func TestDefaultConfig(t *testing.T) {
	config, err := loadConfig("", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Port)
	assert.Equal(t, registrySQLite, config.Registry)
	assert.Equal(t, atdcache.DefaultVersion, config.Version)
	assert.Equal(t, atdcache.DefaultManifest, config.Manifest)
	assert.Equal(t, atdcache.DefaultClassifier, config.Markers)
}

func TestConfigFile(t *testing.T) {
	filename := writeConfig(t, `
port: 9000
origin: https://atd-intel.ai
registry: memory
version:
  static: atd-static-v3
  module: atd-modules-v2
manifest:
  - /
  - /index.html
  - /index.tsx
markers:
  moduleMarker: cdn.jsdelivr.net
`)
	config, err := loadConfig(filename, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, 9000, config.Port)
	assert.Equal(t, "https://atd-intel.ai", config.Origin)
	assert.Equal(t, registryMemory, config.Registry)
	assert.Equal(t, atdcache.Version{Static: "atd-static-v3", Module: "atd-modules-v2"}, config.Version)
	assert.Equal(t, []string{"/", "/index.html", "/index.tsx"}, config.Manifest)
	assert.Equal(t, "cdn.jsdelivr.net", config.Markers.ModuleMarker)
	// not in file, keeps default
	assert.Equal(t, atdcache.DefaultAPIMarker, config.Markers.APIMarker)
	assert.NoError(t, config.Validate())
}

func TestEnvOverridesFile(t *testing.T) {
	filename := writeConfig(t, `
port: 9000
origin: https://atd-intel.ai
version:
  static: atd-static-v3
`)
	config, err := loadConfig(filename, map[string]string{
		"ATD_PORT":             "9100",
		"ATD_VERSION_MODULE":   "atd-modules-v9",
		"ATD_MANIFEST":         "/,/index.html,/main.js",
		"ATD_API_MARKER":       "api.example.com",
		"ATD_REGISTRY":         "redis",
		"ATD_REDIS_ADDR":       "localhost:6379",
		"ATD_OTEL_ENDPOINT":    "http://localhost:4318",
		"UNRELATED_ATD_ORIGIN": "https://example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, 9100, config.Port)
	assert.Equal(t, "https://atd-intel.ai", config.Origin)
	assert.Equal(t, atdcache.Version{Static: "atd-static-v3", Module: "atd-modules-v9"}, config.Version)
	assert.Equal(t, []string{"/", "/index.html", "/main.js"}, config.Manifest)
	assert.Equal(t, "api.example.com", config.Markers.APIMarker)
	assert.Equal(t, "http://localhost:4318", config.OtelEndpoint)
	assert.NoError(t, config.Validate())
}

func TestMissingConfigFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yml"), map[string]string{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}

func TestValidate(t *testing.T) {
	valid := defaultConfig()
	valid.Origin = "https://atd-intel.ai"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no origin", func(c *Config) { c.Origin = "" }},
		{"relative origin", func(c *Config) { c.Origin = "atd-intel.ai" }},
		{"origin with path", func(c *Config) { c.Origin = "https://atd-intel.ai/app" }},
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"unknown registry", func(c *Config) { c.Registry = "etcd" }},
		{"redis without address", func(c *Config) { c.Registry = registryRedis }},
		{"missing app dir", func(c *Config) { c.AppDir = filepath.Join(t.TempDir(), "dist") }},
		{"manifest without root document", func(c *Config) { c.Manifest = []string{"/", "/index.tsx"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := defaultConfig()
			config.Origin = "https://atd-intel.ai"
			tt.modify(&config)
			err := config.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
		})
	}
}

func TestWithRelease(t *testing.T) {
	running := defaultConfig()
	running.Origin = "https://atd-intel.ai"
	changed := defaultConfig()
	changed.Origin = "https://other.example"
	changed.Version = atdcache.Version{Static: "s", Module: "m"}

	merged := running.withRelease(changed)
	assert.Equal(t, "https://atd-intel.ai", merged.Origin)
	assert.Equal(t, changed.Version, merged.Version)
}

func TestOpenMemoryRegistries(t *testing.T) {
	for _, registry := range []string{registryMemory, registrySQLite} {
		config := defaultConfig()
		config.Registry = registry
		config.DB = "memory"
		r, err := openRegistry(config)
		require.NoError(t, err)
		require.NoError(t, r.Close())
	}
}
