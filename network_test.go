package atdcache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/santimwamba/ATD---Artificial-Technology-Development/cache"
	serializer "github.com/santimwamba/ATD---Artificial-Technology-Development/pkg/response-serializer"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testOrigin = "https://atd-intel.ai"

var errOffline = errors.New("network is unreachable")

type route struct {
	status int
	body   string
	header http.Header
}

// fakeNetwork is a RoundTripper serving fixed routes.
// It can be switched offline, and it can hold requests until released.
type fakeNetwork struct {
	mutex   sync.Mutex
	offline bool
	routes  map[string]route
	hits    map[string]int
	// requests wait for this channel to close, if set
	hold chan struct{}
}

func newFakeNetwork() *fakeNetwork {
	n := &fakeNetwork{
		routes: map[string]route{},
		hits:   map[string]int{},
	}
	for _, p := range DefaultManifest {
		n.routes[testOrigin+p] = route{status: http.StatusOK, body: "asset " + p}
	}
	n.routes[testOrigin+"/index.html"] = route{
		status: http.StatusOK,
		body:   "<html>ATD</html>",
		header: http.Header{"Content-Type": []string{"text/html"}},
	}
	return n
}

func (n *fakeNetwork) set(u string, status int, body string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.routes[u] = route{status: status, body: body}
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.offline = offline
}

func (n *fakeNetwork) holdRequests() func() {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	hold := make(chan struct{})
	n.hold = hold
	return func() {
		n.mutex.Lock()
		n.hold = nil
		n.mutex.Unlock()
		close(hold)
	}
}

func (n *fakeNetwork) hitCount(u string) int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.hits[u]
}

func (n *fakeNetwork) RoundTrip(r *http.Request) (*http.Response, error) {
	n.mutex.Lock()
	hold := n.hold
	n.mutex.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return nil, r.Context().Err()
		}
	}

	n.mutex.Lock()
	defer n.mutex.Unlock()
	u := r.URL.String()
	n.hits[u]++
	if n.offline {
		return nil, errOffline
	}
	rt, ok := n.routes[u]
	if !ok {
		rt = route{status: http.StatusNotFound, body: "not found"}
	}
	header := rt.header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode:    rt.status,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader([]byte(rt.body))),
		ContentLength: int64(len(rt.body)),
		Request:       r,
	}, nil
}

// countingRegistry counts every registry access.
type countingRegistry struct {
	cache.Registry
	calls atomic.Int32
}

func (c *countingRegistry) Open(ctx context.Context, store string) error {
	c.calls.Add(1)
	return c.Registry.Open(ctx, store)
}

func (c *countingRegistry) Names(ctx context.Context) ([]string, error) {
	c.calls.Add(1)
	return c.Registry.Names(ctx)
}

func (c *countingRegistry) Match(ctx context.Context, store, key string) (cache.Entry, bool, error) {
	c.calls.Add(1)
	return c.Registry.Match(ctx, store, key)
}

func (c *countingRegistry) Put(ctx context.Context, store string, entry cache.Entry) error {
	c.calls.Add(1)
	return c.Registry.Put(ctx, store, entry)
}

func (c *countingRegistry) PutAll(ctx context.Context, store string, entries []cache.Entry) error {
	c.calls.Add(1)
	return c.Registry.PutAll(ctx, store, entries)
}

func (c *countingRegistry) Keys(ctx context.Context, store string, cb func(string)) error {
	c.calls.Add(1)
	return c.Registry.Keys(ctx, store, cb)
}

func (c *countingRegistry) Len(ctx context.Context, store string) (int, error) {
	c.calls.Add(1)
	return c.Registry.Len(ctx, store)
}

func (c *countingRegistry) Delete(ctx context.Context, store string) (bool, error) {
	c.calls.Add(1)
	return c.Registry.Delete(ctx, store)
}

func testLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

func originURL(t *testing.T) *url.URL {
	u, err := url.Parse(testOrigin)
	require.NoError(t, err)
	return u
}

func newTestWorker(t *testing.T, n *fakeNetwork, registry cache.Registry, version Version) *Worker {
	origin := originURL(t)
	w, err := New(Config{
		Registry:  registry,
		Fetcher:   NewHTTPFetcher(origin, n),
		OriginURL: *origin,
		Version:   version,
		Logger:    testLogger(),
	})
	require.NoError(t, err)
	return w
}

// activeWorker returns an installed and activated worker with the default version.
func activeWorker(t *testing.T, n *fakeNetwork, registry cache.Registry) *Worker {
	w := newTestWorker(t, n, registry, DefaultVersion)
	ctx := context.Background()
	require.NoError(t, w.Install(ctx))
	require.NoError(t, w.Activate(ctx))
	return w
}

func get(t *testing.T, rawURL string, mode Mode) *Request {
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &Request{Method: http.MethodGet, URL: u, Header: http.Header{}, Mode: mode}
}

func post(t *testing.T, rawURL, body string) *Request {
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &Request{
		Method: http.MethodPost,
		URL:    u,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(body),
		Mode:   ModeCORS,
	}
}

func stored(t *testing.T, registry cache.Registry, store, rawURL string) (*Response, bool) {
	e, ok, err := registry.Match(context.Background(), store, "GET:"+rawURL)
	require.NoError(t, err)
	if !ok {
		return nil, false
	}
	s, err := serializer.BytesToSnapshot(e.Bytes)
	require.NoError(t, err)
	return responseFromSnapshot(s), true
}
