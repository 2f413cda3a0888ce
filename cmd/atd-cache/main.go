// Command atd-cache serves an application through the offline-first request interceptor.
//
// Same-origin requests and absolute-URI proxy requests are classified and answered
// from the stores of the active release, or from the network.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	atdcache "github.com/santimwamba/ATD---Artificial-Technology-Development"
	"github.com/santimwamba/ATD---Artificial-Technology-Development/cache"
	"github.com/santimwamba/ATD---Artificial-Technology-Development/internal/telemetry"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	appDirFlag         string
	registryFlag       string
	dbFilenameFlag     string
	redisAddrFlag      string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file (reloaded on change)")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&originFlag, "origin", "", "URL of the application")
	flag.StringVar(&appDirFlag, "app-dir", "", "Serve same-origin requests from this directory")
	flag.StringVar(&registryFlag, "registry", "sqlite", "Store registry to use (sqlite, memory, redis)")
	flag.StringVar(&dbFilenameFlag, "db", "atd-cache.db", "Registry DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&redisAddrFlag, "redis-addr", "", "Redis address for the redis registry")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

// applyFlags overrides the config with the flags given on the command line.
func applyFlags(config *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			config.Port = portFlag
		case "origin":
			config.Origin = originFlag
		case "app-dir":
			config.AppDir = appDirFlag
		case "registry":
			config.Registry = registryFlag
		case "db":
			config.DB = dbFilenameFlag
		case "redis-addr":
			config.RedisAddr = redisAddrFlag
		}
	})
}

func readConfig() (Config, error) {
	config, err := loadConfig(configFilenameFlag, nil)
	if err != nil {
		return config, err
	}
	applyFlags(&config)
	return config, config.Validate()
}

func openRegistry(config Config) (cache.Registry, error) {
	switch config.Registry {
	case registryMemory:
		return cache.NewMemRegistry(), nil
	case registryRedis:
		return cache.NewRedisRegistry(cache.RedisConfig{
			Client:      redis.NewClient(&redis.Options{Addr: config.RedisAddr}),
			Prefix:      config.RedisPrefix,
			CloseClient: true,
		})
	default:
		// set up sqlite memory provider
		dbFilename := config.DB
		if dbFilename == "memory" {
			dbFilename = ""
		}
		return cache.NewSQLiteRegistry(dbFilename)
	}
}

func newFetcher(config Config) (atdcache.Fetcher, error) {
	origin, err := config.OriginURL()
	if err != nil {
		return nil, err
	}
	network := atdcache.NewHTTPFetcher(origin, nil)
	if config.AppDir == "" {
		return network, nil
	}
	return &atdcache.HandlerFetcher{
		Origin:  origin,
		Handler: atdcache.FileHandler(http.Dir(config.AppDir)),
		Next:    network,
	}, nil
}

func newWorker(config Config, registry cache.Registry, fetcher atdcache.Fetcher) (*atdcache.Worker, error) {
	origin, err := config.OriginURL()
	if err != nil {
		return nil, err
	}
	markers := config.Markers
	return atdcache.New(atdcache.Config{
		Registry:   registry,
		Fetcher:    fetcher,
		OriginURL:  *origin,
		Version:    config.Version,
		Manifest:   config.Manifest,
		Classifier: &markers,
		Logger:     &log.Logger,
	})
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	config, err := readConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "atd-cache", version, config.OtelEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not set up tracing")
	}
	defer shutdownTracing(context.Background())

	registry, err := openRegistry(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open registry")
	}
	defer registry.Close()

	fetcher, err := newFetcher(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create fetcher")
	}
	reg := atdcache.NewRegistration(fetcher, &log.Logger)

	worker, err := newWorker(config, registry, fetcher)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create worker")
	}
	// without an active worker requests pass through, so keep serving
	if err := reg.Register(ctx, worker); err != nil {
		log.Error().Err(err).Msg("Could not register worker")
	}

	if configFilenameFlag != "" {
		watcher, err := watchConfig(configFilenameFlag, log.Logger, func() {
			reload(ctx, reg, registry, fetcher, config)
		})
		if err != nil {
			log.Error().Err(err).Msg("Could not watch config file")
		} else {
			defer watcher.Close()
		}
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: atdcache.NewRouter(reg),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("Serving %s on port %v", config.Origin, config.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
	reg.Wait()
}

// reload registers a worker for the changed config.
// Only release settings are picked up; the registry, origin and port need a restart.
func reload(ctx context.Context, reg *atdcache.Registration, registry cache.Registry, fetcher atdcache.Fetcher, running Config) {
	config, err := readConfig()
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration, keeping active worker")
		return
	}
	if config.Origin != running.Origin || config.Registry != running.Registry || config.Port != running.Port {
		log.Warn().Msg("Origin, registry and port changes need a restart")
	}
	worker, err := newWorker(running.withRelease(config), registry, fetcher)
	if err != nil {
		log.Error().Err(err).Msg("Could not create worker")
		return
	}
	if err := reg.Register(ctx, worker); err != nil {
		log.Error().Err(err).Msg("Could not register worker")
	}
}

// withRelease returns the config with the release settings of other.
func (c Config) withRelease(other Config) Config {
	c.Version = other.Version
	c.Manifest = other.Manifest
	c.Markers = other.Markers
	return c
}
