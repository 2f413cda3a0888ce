package main

import (
	"net/url"
	"os"

	atdcache "github.com/santimwamba/ATD---Artificial-Technology-Development"

	"github.com/caarlos0/env/v11"
	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"
)

const (
	registrySQLite = "sqlite"
	registryMemory = "memory"
	registryRedis  = "redis"
)

// Config is read from the config file, then overridden by ATD_* environment variables
// and finally by command line flags.
type Config struct {
	Port int `yaml:"port" env:"ATD_PORT"`
	// URL of the application, e.g. https://atd-intel.ai
	Origin string `yaml:"origin" env:"ATD_ORIGIN"`
	// Serve same-origin requests from this directory instead of the network.
	AppDir string `yaml:"appDir" env:"ATD_APP_DIR"`
	// One of sqlite, memory or redis.
	Registry     string `yaml:"registry" env:"ATD_REGISTRY"`
	DB           string `yaml:"db" env:"ATD_DB"`
	RedisAddr    string `yaml:"redisAddr" env:"ATD_REDIS_ADDR"`
	RedisPrefix  string `yaml:"redisPrefix" env:"ATD_REDIS_PREFIX"`
	OtelEndpoint string `yaml:"otelEndpoint" env:"ATD_OTEL_ENDPOINT"`

	Version  atdcache.Version    `yaml:"version" envPrefix:"ATD_VERSION_"`
	Manifest []string            `yaml:"manifest" env:"ATD_MANIFEST" envSeparator:","`
	Markers  atdcache.Classifier `yaml:"markers" envPrefix:"ATD_"`
}

func defaultConfig() Config {
	return Config{
		Port:     8080,
		Registry: registrySQLite,
		DB:       "atd-cache.db",
		Version:  atdcache.DefaultVersion,
		Manifest: append([]string(nil), atdcache.DefaultManifest...),
		Markers:  atdcache.DefaultClassifier,
	}
}

// loadConfig reads the defaults, the config file (if any) and the environment, in that order.
// A nil environ means the process environment.
func loadConfig(filename string, environ map[string]string) (Config, error) {
	config := defaultConfig()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, errors.Wrapf(err, errors.CodeInvalidConfig, "could not read config file %s", filename)
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, errors.Wrapf(err, errors.CodeInvalidConfig, "could not parse config file %s", filename)
		}
	}
	if err := env.ParseWithOptions(&config, env.Options{Environment: environ}); err != nil {
		return config, errors.Wrap(err, errors.CodeInvalidConfig, "could not parse environment")
	}
	return config, nil
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Newf(errors.CodeInvalidConfig, "invalid port %d", c.Port)
	}
	if c.Origin == "" {
		return errors.New(errors.CodeInvalidConfig, "origin is required")
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "could not parse origin")
	}
	if u.Scheme == "" || u.Host == "" {
		return errors.Newf(errors.CodeInvalidConfig, "origin %s is not an absolute URL", c.Origin)
	}
	if u.Path != "" && u.Path != "/" {
		return errors.New(errors.CodeInvalidConfig, "origins with paths are not supported")
	}
	switch c.Registry {
	case registrySQLite, registryMemory:
	case registryRedis:
		if c.RedisAddr == "" {
			return errors.New(errors.CodeInvalidConfig, "redis registry needs a redis address")
		}
	default:
		return errors.Newf(errors.CodeInvalidConfig, "unsupported registry: %s", c.Registry)
	}
	if c.AppDir != "" {
		if fi, err := os.Stat(c.AppDir); err != nil || !fi.IsDir() {
			return errors.Newf(errors.CodeInvalidConfig, "app dir %s is not a directory", c.AppDir)
		}
	}
	return atdcache.ValidateManifest(c.Manifest)
}

func (c Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "could not parse origin")
	}
	u.Path = ""
	return u, nil
}
