package atdcache

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/santimwamba/ATD---Artificial-Technology-Development/cache"
	cachekey "github.com/santimwamba/ATD---Artificial-Technology-Development/pkg/cache-key"
	"github.com/santimwamba/ATD---Artificial-Technology-Development/rfc9211"

	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/santimwamba/ATD---Artificial-Technology-Development"

// RootDocument is served to navigations that cannot reach the network.
const RootDocument = "/index.html"

// DefaultManifest lists the static assets stored at install.
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/index.tsx",
	"/logo.png",
	"/types.ts",
	"/constants.ts",
}

var entryScriptExtensions = []string{".tsx", ".ts", ".jsx", ".js", ".mjs"}

// Version names the two stores of a release.
// Bumping either evicts every other store when the release activates.
type Version struct {
	Static string `yaml:"static" env:"STATIC"`
	Module string `yaml:"module" env:"MODULE"`
}

var DefaultVersion = Version{
	Static: "atd-static-v2",
	Module: "atd-modules-v1",
}

func (v Version) String() string {
	return v.Static + "+" + v.Module
}

// Has reports whether the store name belongs to this version.
func (v Version) Has(store string) bool {
	return store == v.Static || store == v.Module
}

func (v Version) validate() error {
	if v.Static == "" || v.Module == "" {
		return errors.New(errors.CodeInvalidConfig, "both store names are required")
	}
	if v.Static == v.Module {
		return errors.Newf(errors.CodeInvalidConfig, "static and module store share the name %s", v.Static)
	}
	return nil
}

// ValidateManifest checks that the manifest can serve the navigation fallback:
// it must contain the root document and an entry script.
func ValidateManifest(manifest []string) error {
	var hasRoot, hasScript bool
	for _, p := range manifest {
		if p == "" || p[0] != '/' {
			return errors.Newf(errors.CodeInvalidConfig, "manifest path %q is not root-relative", p)
		}
		if p == RootDocument {
			hasRoot = true
		}
		ext := path.Ext(p)
		for _, e := range entryScriptExtensions {
			if ext == e {
				hasScript = true
			}
		}
	}
	if !hasRoot {
		return errors.Newf(errors.CodeInvalidConfig, "manifest must contain %s", RootDocument)
	}
	if !hasScript {
		return errors.New(errors.CodeInvalidConfig, "manifest must contain an entry script")
	}
	return nil
}

// State of a worker in its lifecycle.
type State int32

const (
	StateUninstalled State = iota
	StateInstalling
	// Installed and waiting to activate.
	StateInstalled
	StateActivating
	StateActivated
	// Failed to install or activate, or replaced by a newer worker.
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	}
	return "unknown"
}

type Config struct {
	// Storage for the stores.
	Registry cache.Registry
	// Network access.
	Fetcher Fetcher
	// URL of the application.
	// Manifest paths and relative request URLs are resolved against it.
	OriginURL url.URL
	// Store names. DefaultVersion is used if empty.
	Version Version
	// Static assets to store at install. DefaultManifest is used if nil.
	Manifest []string
	// Request classification. DefaultClassifier is used if nil.
	Classifier *Classifier
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Worker is one release of the interceptor.
// It installs and activates its stores and then handles requests.
type Worker struct {
	registry   cache.Registry
	fetcher    Fetcher
	keyer      cachekey.CacheKeyer
	version    Version
	manifest   []string
	classifier Classifier
	log        zerolog.Logger
	tracer     trace.Tracer
	state      atomic.Int32
	// detached fetches and writes
	background sync.WaitGroup
	now        func() time.Time
}

// New creates an uninstalled worker.
func New(config Config) (*Worker, error) {
	if config.Registry == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "registry is required")
	}
	if config.Fetcher == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "fetcher is required")
	}
	if config.Version == (Version{}) {
		config.Version = DefaultVersion
	}
	if err := config.Version.validate(); err != nil {
		return nil, err
	}
	if config.Manifest == nil {
		config.Manifest = DefaultManifest
	}
	if err := ValidateManifest(config.Manifest); err != nil {
		return nil, err
	}
	classifier := DefaultClassifier
	if config.Classifier != nil {
		classifier = *config.Classifier
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	// create a child logger and add defaults
	logger = logger.With().
		Str("static", config.Version.Static).
		Str("modules", config.Version.Module).
		Logger()

	origin := config.OriginURL
	return &Worker{
		registry:   config.Registry,
		fetcher:    config.Fetcher,
		keyer:      cachekey.NewCacheKeyer(&origin),
		version:    config.Version,
		manifest:   append([]string(nil), config.Manifest...),
		classifier: classifier,
		log:        logger,
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}, nil
}

func (w *Worker) Version() Version {
	return w.version
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) transition(from, to State) bool {
	return w.state.CompareAndSwap(int32(from), int32(to))
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Install stores every manifest asset in the static store.
// Either all assets are stored or none are; a failed install makes the worker redundant.
func (w *Worker) Install(ctx context.Context) error {
	if !w.transition(StateUninstalled, StateInstalling) {
		return errors.Newf(errors.CodeConflict, "cannot install a worker that is %s", w.State())
	}
	w.log.Info().Int("assets", len(w.manifest)).Msg("Storing static assets")

	entries := make([]cache.Entry, len(w.manifest))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range w.manifest {
		g.Go(func() error {
			u, err := w.keyer.ResolvePath(p)
			if err != nil {
				return errors.Wrap(err, errors.CodeInvalidConfig, "invalid manifest path")
			}
			res, err := w.fetcher.Fetch(gctx, &Request{
				Method: http.MethodGet,
				URL:    u,
				Header: http.Header{},
				Mode:   ModeSameOrigin,
			})
			if err != nil {
				return errors.Wrapf(err, errors.CodeNetwork, "could not fetch %s", p)
			}
			if !res.OK() {
				return errors.Newf(errors.CodeNotFound, "fetching %s returned status %d", p, res.StatusCode)
			}
			e, err := w.entry(w.keyer.GetKey(http.MethodGet, u), res)
			if err != nil {
				return err
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		w.setState(StateRedundant)
		w.log.Error().Err(err).Msg("Install failed")
		return errors.Wrap(err, errors.CodeExecutionFailed, "install failed")
	}

	if err := w.registry.Open(ctx, w.version.Static); err != nil {
		w.setState(StateRedundant)
		return errors.Wrap(err, errors.CodeExecutionFailed, "install failed")
	}
	if err := w.registry.PutAll(ctx, w.version.Static, entries); err != nil {
		w.setState(StateRedundant)
		return errors.Wrap(err, errors.CodeExecutionFailed, "install failed")
	}
	w.setState(StateInstalled)
	// activation follows without waiting for callers of the previous worker
	w.log.Debug().Msg("Installed, skipping waiting")
	return nil
}

// Activate deletes every store that does not belong to this worker's version.
func (w *Worker) Activate(ctx context.Context) error {
	if !w.transition(StateInstalled, StateActivating) {
		return errors.Newf(errors.CodeConflict, "cannot activate a worker that is %s", w.State())
	}
	if err := w.registry.Open(ctx, w.version.Module); err != nil {
		w.setState(StateRedundant)
		return errors.Wrap(err, errors.CodeExecutionFailed, "activate failed")
	}
	names, err := w.registry.Names(ctx)
	if err != nil {
		w.setState(StateRedundant)
		return errors.Wrap(err, errors.CodeExecutionFailed, "activate failed")
	}
	var deleted []string
	for _, name := range names {
		if w.version.Has(name) {
			continue
		}
		w.log.Info().Str("store", name).Msg("Deleting obsolete store")
		if _, err := w.registry.Delete(ctx, name); err != nil {
			w.setState(StateRedundant)
			if len(deleted) > 0 {
				// the previous worker keeps serving without these stores
				w.log.Error().Err(err).Strs("deleted", deleted).Msg("Activate failed after deleting stores, previous release is degraded")
			}
			return errors.Wrapf(err, errors.CodeExecutionFailed, "could not delete store %s", name)
		}
		deleted = append(deleted, name)
	}
	w.setState(StateActivated)
	w.log.Info().Msg("Activated")
	return nil
}

// Handle answers an intercepted request according to its class.
// The returned error is ErrNoResponse, or a network error for a module that is neither stored nor reachable.
func (w *Worker) Handle(ctx context.Context, r *Request) (*Response, error) {
	class := w.classifier.Classify(w.keyer.Resolve(r.URL))
	ctx, span := w.tracer.Start(ctx, "atd.handle", trace.WithAttributes(
		attribute.String("http.request.method", r.Method),
		attribute.String("url.full", r.URL.String()),
		attribute.String("atd.class", class.String()),
	))
	defer span.End()

	var (
		res *Response
		cs  rfc9211.CacheStatus
		err error
	)
	switch class {
	case ClassAPI:
		res, cs, err = w.networkOnly(ctx, r)
	case ClassModule:
		res, cs, err = w.staleWhileRevalidate(ctx, r)
	default:
		res, cs, err = w.cacheFirst(ctx, r)
	}

	span.SetAttributes(attribute.String("atd.cache_status", cs.String()))
	w.logRequest(r, class, cs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	// never modify a response that may be shared
	res = res.Clone()
	res.Header.Set(rfc9211.HeaderName, cs.String())
	return res, nil
}

// Wait blocks until all detached fetches and writes are done.
func (w *Worker) Wait() {
	w.background.Wait()
}

// RevalidateModules fetches every stored module again and overwrites it on success.
// Modules that cannot be fetched keep their stored response.
// It returns the number of refreshed modules.
func (w *Worker) RevalidateModules(ctx context.Context) (int, error) {
	var keys []string
	if err := w.registry.Keys(ctx, w.version.Module, func(key string) {
		keys = append(keys, key)
	}); err != nil {
		return 0, errors.Wrap(err, errors.CodeExecutionFailed, "could not list modules")
	}

	var refreshed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, key := range keys {
		g.Go(func() error {
			req, err := w.keyer.GetRequestFromKey(key)
			if err != nil {
				w.log.Error().Err(err).Str("key", key).Msg("Could not get request from key")
				return nil
			}
			res, err := w.fetcher.Fetch(gctx, &Request{
				Method: req.Method,
				URL:    req.URL,
				Header: http.Header{},
				Mode:   ModeCORS,
			})
			if err != nil {
				w.log.Warn().Err(err).Str("key", key).Msg("Could not revalidate module")
				return nil
			}
			if res.StatusCode == http.StatusPartialContent {
				w.log.Debug().Str("key", key).Msg("Partial response, keeping stored module")
				return nil
			}
			if err := w.put(gctx, w.version.Module, key, res); err != nil {
				return err
			}
			refreshed.Add(1)
			return nil
		})
	}
	err := g.Wait()
	w.log.Info().Int("modules", len(keys)).Int32("refreshed", refreshed.Load()).Msg("Revalidated modules")
	return int(refreshed.Load()), err
}

// StoreStatus describes one store of the registry.
type StoreStatus struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

// Stores lists all stores of the registry with their entry counts.
func (w *Worker) Stores(ctx context.Context) ([]StoreStatus, error) {
	names, err := w.registry.Names(ctx)
	if err != nil {
		return nil, err
	}
	stores := make([]StoreStatus, 0, len(names))
	for _, name := range names {
		n, err := w.registry.Len(ctx, name)
		if err != nil {
			return nil, err
		}
		stores = append(stores, StoreStatus{Name: name, Entries: n, Current: w.version.Has(name)})
	}
	return stores, nil
}

func (w *Worker) logRequest(r *Request, class RequestClass, cs rfc9211.CacheStatus) {
	isHit := 0
	if cs.IsHit {
		isHit = 1
	}
	w.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("mode", string(r.Mode)).
		Str("class", class.String()).
		Str("cache", cs.Cache).
		Str("fwd", string(cs.FwdReason)).
		Bool("stored", cs.Stored).
		Str("detail", cs.Detail).
		Int("hit", isHit).
		Msg("Sending response to client")
}
