package atdcache

import (
	"context"
	"net/http"

	"github.com/santimwamba/ATD---Artificial-Technology-Development/cache"
	cachekey "github.com/santimwamba/ATD---Artificial-Technology-Development/pkg/cache-key"
	serializer "github.com/santimwamba/ATD---Artificial-Technology-Development/pkg/response-serializer"
	"github.com/santimwamba/ATD---Artificial-Technology-Development/rfc9211"

	"github.com/jmgilman/go/errors"
)

const (
	detailOfflineFallback    = "offline-fallback"
	detailNavigationFallback = "navigation-fallback"
)

// networkOnly never touches the registry.
// A request that cannot reach the network gets the offline response instead of an error.
func (w *Worker) networkOnly(ctx context.Context, r *Request) (*Response, rfc9211.CacheStatus, error) {
	cs := rfc9211.CacheStatus{}
	cs.Forward(rfc9211.FwdReasonBypass)
	res, err := w.fetcher.Fetch(ctx, r)
	if err != nil {
		w.log.Warn().Err(err).Str("url", r.URL.String()).Msg("Intelligence API unreachable, sending offline response")
		cs.Detail = detailOfflineFallback
		return OfflineResponse(), cs, nil
	}
	cs.FwdStatus = res.StatusCode
	return res, cs, nil
}

type fetchResult struct {
	res    *Response
	err    error
	stored bool
}

// staleWhileRevalidate answers from the module store when it can
// and refreshes the entry from the network in any case.
func (w *Worker) staleWhileRevalidate(ctx context.Context, r *Request) (*Response, rfc9211.CacheStatus, error) {
	cs := rfc9211.CacheStatus{Cache: w.version.Module}
	storable := cachekey.Storable(r.Method)
	key := w.keyer.GetKey(r.Method, r.URL)

	var cached *Response
	if storable {
		cached = w.match(ctx, w.version.Module, key)
	}

	// the refresh outlives the request that started it
	fetched := make(chan fetchResult, 1)
	w.background.Add(1)
	go func() {
		defer w.background.Done()
		bctx := context.WithoutCancel(ctx)
		res, err := w.fetcher.Fetch(bctx, r)
		result := fetchResult{res: res, err: err}
		if err == nil && storable && res.StatusCode != http.StatusPartialContent {
			if err := w.put(bctx, w.version.Module, key, res); err != nil {
				w.log.Error().Err(err).Str("key", key).Msg("Could not store module")
			} else {
				result.stored = true
			}
		}
		if err != nil && cached != nil {
			w.log.Debug().Err(err).Str("key", key).Msg("Module revalidation failed, keeping stored response")
		}
		fetched <- result
	}()

	if cached != nil {
		cs.Hit()
		return cached, cs, nil
	}

	if storable {
		cs.Forward(rfc9211.FwdReasonUriMiss)
	} else {
		cs.Forward(rfc9211.FwdReasonMethod)
	}
	result := <-fetched
	if result.err != nil {
		return nil, cs, errors.Wrapf(result.err, errors.CodeNetwork, "module %s unavailable", r.URL)
	}
	cs.FwdStatus = result.res.StatusCode
	cs.Stored = result.stored
	return result.res, cs, nil
}

// cacheFirst answers from the static store, populating it from the network on a miss.
// Navigations that cannot be served at all get the root document.
func (w *Worker) cacheFirst(ctx context.Context, r *Request) (*Response, rfc9211.CacheStatus, error) {
	cs := rfc9211.CacheStatus{Cache: w.version.Static}
	storable := cachekey.Storable(r.Method)
	key := w.keyer.GetKey(r.Method, r.URL)

	if storable {
		if cached := w.match(ctx, w.version.Static, key); cached != nil {
			cs.Hit()
			return cached, cs, nil
		}
		cs.Forward(rfc9211.FwdReasonUriMiss)
	} else {
		cs.Forward(rfc9211.FwdReasonMethod)
	}

	res, err := w.fetcher.Fetch(ctx, r)
	if err != nil {
		w.log.Trace().Err(err).Str("url", r.URL.String()).Msg("Static asset unreachable")
		if r.IsNavigation() {
			if root := w.rootDocument(ctx); root != nil {
				cs.Detail = detailNavigationFallback
				return root, cs, nil
			}
		}
		return nil, cs, ErrNoResponse
	}
	cs.FwdStatus = res.StatusCode

	if storable && res.OK() && res.Type == TypeBasic {
		// the caller does not wait for the write
		cs.Stored = true
		toStore := res.Clone()
		w.background.Add(1)
		go func() {
			defer w.background.Done()
			if err := w.put(context.WithoutCancel(ctx), w.version.Static, key, toStore); err != nil {
				w.log.Error().Err(err).Str("key", key).Msg("Could not store static asset")
			}
		}()
	}
	return res, cs, nil
}

// rootDocument returns the stored root document, or nil.
func (w *Worker) rootDocument(ctx context.Context) *Response {
	key, err := w.keyer.PathKey(RootDocument)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not create root document key")
		return nil
	}
	return w.match(ctx, w.version.Static, key)
}

// match looks up a stored response.
// Registry and decoding failures are logged and count as misses.
func (w *Worker) match(ctx context.Context, store, key string) *Response {
	w.log.Trace().Str("store", store).Str("key", key).Msg("Matching stored response")
	e, ok, err := w.registry.Match(ctx, store, key)
	if err != nil {
		w.log.Error().Err(err).Str("store", store).Msg("Could not retrieve from registry")
		return nil
	}
	if !ok {
		return nil
	}
	s, err := serializer.BytesToSnapshot(e.Bytes)
	if err != nil {
		w.log.Error().Err(err).Str("key", key).Msg("Could not decode stored response")
		return nil
	}
	return responseFromSnapshot(s)
}

func (w *Worker) put(ctx context.Context, store, key string, res *Response) error {
	e, err := w.entry(key, res)
	if err != nil {
		return err
	}
	w.log.Trace().Str("store", store).Str("key", key).Msg("Writing to registry")
	return w.registry.Put(ctx, store, e)
}

func (w *Worker) entry(key string, res *Response) (cache.Entry, error) {
	b, err := serializer.SnapshotToBytes(res.snapshot())
	if err != nil {
		return cache.Entry{}, errors.Wrapf(err, errors.CodeInternal, "could not serialize response for %s", key)
	}
	return cache.Entry{Key: key, StoredAt: w.now(), Bytes: b}, nil
}
