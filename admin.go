package atdcache

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"
)

// AdminPrefix is the path prefix of the control endpoints.
// Requests below it never reach the interceptor.
const AdminPrefix = "/.atd"

// revalidation runs in the background, it gets this long
const revalidateTimeout = 5 * time.Minute

// NewRouter routes control endpoints to the registration and everything else to its interceptor.
func NewRouter(reg *Registration) http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(reg.log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Handled request")
	}))

	r.Route(AdminPrefix, func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Get("/status", reg.serveStatus)
		r.Get("/stores", reg.serveStores)
		r.Post("/revalidate", reg.serveRevalidate)
	})
	r.Handle("/*", reg)
	return r
}

func (reg *Registration) serveStatus(w http.ResponseWriter, r *http.Request) {
	status, err := reg.Status(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not get status")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

func (reg *Registration) serveStores(w http.ResponseWriter, r *http.Request) {
	status, err := reg.Status(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not list stores")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	stores := status.Stores
	if stores == nil {
		stores = []StoreStatus{}
	}
	writeJSON(w, r, http.StatusOK, stores)
}

// serveRevalidate starts revalidating all stored modules and returns immediately.
func (reg *Registration) serveRevalidate(w http.ResponseWriter, r *http.Request) {
	if reg.Active() == nil {
		http.Error(w, ErrNoWorker.Error(), http.StatusServiceUnavailable)
		return
	}
	logger := *hlog.FromRequest(r)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), revalidateTimeout)
		defer cancel()
		if _, err := reg.RevalidateModules(ctx); err != nil {
			logger.Error().Err(err).Msg("Could not revalidate modules")
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not write JSON")
	}
}
