package atdcache

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/santimwamba/ATD---Artificial-Technology-Development/rfc9211"

	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
)

// Registration controls which worker intercepts requests.
// Until a worker has activated, requests go straight to the network.
type Registration struct {
	active      atomic.Pointer[Worker]
	passthrough Fetcher
	log         zerolog.Logger
	// one registration at a time
	mutex sync.Mutex
}

// NewRegistration creates a registration without an active worker.
func NewRegistration(passthrough Fetcher, logger *zerolog.Logger) *Registration {
	reg := &Registration{passthrough: passthrough}
	if logger == nil {
		reg.log = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		reg.log = *logger
	}
	return reg
}

// Register installs and activates the worker, which then takes over all requests.
// If the worker fails to install, the previously active worker keeps serving.
func (reg *Registration) Register(ctx context.Context, w *Worker) error {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()

	if err := w.Install(ctx); err != nil {
		if prev := reg.active.Load(); prev != nil {
			reg.log.Warn().Err(err).Str("active", prev.Version().String()).Msg("New worker failed to install, keeping active worker")
		}
		return err
	}
	if err := w.Activate(ctx); err != nil {
		if prev := reg.active.Load(); prev != nil {
			reg.log.Warn().Err(err).Str("active", prev.Version().String()).Msg("New worker failed to activate, keeping active worker")
		}
		return err
	}
	prev := reg.active.Swap(w)
	if prev != nil && prev != w {
		// background writes of the previous worker still complete
		prev.setState(StateRedundant)
	}
	reg.log.Info().Str("version", w.Version().String()).Msg("Worker controls all clients")
	return nil
}

// Active returns the worker handling requests, or nil.
func (reg *Registration) Active() *Worker {
	return reg.active.Load()
}

// Handle answers the request with the active worker, or from the network if there is none.
func (reg *Registration) Handle(ctx context.Context, r *Request) (*Response, error) {
	if w := reg.active.Load(); w != nil {
		return w.Handle(ctx, r)
	}
	res, err := reg.passthrough.Fetch(ctx, r)
	if err != nil {
		return nil, err
	}
	cs := rfc9211.CacheStatus{}
	cs.Forward(rfc9211.FwdReasonBypass)
	if res.Header == nil {
		res.Header = http.Header{}
	}
	res.Header.Set(rfc9211.HeaderName, cs.String())
	return res, nil
}

// ServeHTTP implements the http.Handler interface.
// Requests without a response get 502 Bad Gateway.
func (reg *Registration) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			reg.log.Error().Msgf("Recovered from panic: %v", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}()

	req, err := NewRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := reg.Handle(r.Context(), req)
	if err != nil {
		reg.log.Trace().Err(err).Str("url", r.URL.String()).Msg("No response")
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	bytesWritten, err := res.send(w)
	if err != nil {
		reg.log.Error().Err(err).Msg("Could not write response body to client")
	}
	reg.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

// RoundTrip implements the http.RoundTripper interface,
// so the registration can intercept the requests of an http.Client.
func (reg *Registration) RoundTrip(r *http.Request) (*http.Response, error) {
	req, err := NewRequest(r)
	if err != nil {
		return nil, err
	}
	res, err := reg.Handle(r.Context(), req)
	if err != nil {
		return nil, err
	}
	return res.HTTPResponse(r), nil
}

// Status describes the registration.
type Status struct {
	Active bool          `json:"active"`
	State  string        `json:"state,omitempty"`
	Static string        `json:"static,omitempty"`
	Module string        `json:"module,omitempty"`
	Stores []StoreStatus `json:"stores,omitempty"`
}

func (reg *Registration) Status(ctx context.Context) (Status, error) {
	w := reg.active.Load()
	if w == nil {
		return Status{}, nil
	}
	stores, err := w.Stores(ctx)
	if err != nil {
		return Status{}, errors.Wrap(err, errors.CodeExecutionFailed, "could not list stores")
	}
	return Status{
		Active: true,
		State:  w.State().String(),
		Static: w.version.Static,
		Module: w.version.Module,
		Stores: stores,
	}, nil
}

// RevalidateModules refreshes the stored modules of the active worker.
func (reg *Registration) RevalidateModules(ctx context.Context) (int, error) {
	w := reg.active.Load()
	if w == nil {
		return 0, ErrNoWorker
	}
	return w.RevalidateModules(ctx)
}

// Wait waits for the background work of the active worker.
func (reg *Registration) Wait() {
	if w := reg.active.Load(); w != nil {
		w.Wait()
	}
}
