package atdcache

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	tee "github.com/santimwamba/ATD---Artificial-Technology-Development/pkg/response-writer-tee"

	"github.com/jmgilman/go/errors"
)

// Fetcher performs requests against the network.
// Errors mean no response could be obtained at all (no connectivity, DNS, timeouts);
// any HTTP status is a response.
type Fetcher interface {
	Fetch(ctx context.Context, r *Request) (*Response, error)
}

// HTTPFetcher fetches with an http.Client.
type HTTPFetcher struct {
	client http.Client
	// Origin of the application, used to type responses.
	origin *url.URL
}

// NewHTTPFetcher creates a fetcher that uses the given transport,
// or http.DefaultTransport if nil.
func NewHTTPFetcher(origin *url.URL, transport http.RoundTripper) *HTTPFetcher {
	return &HTTPFetcher{
		origin: origin,
		client: http.Client{
			Transport: transport,
			// do not follow redirects, the page does that
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, r *Request) (*Response, error) {
	uri := resolve(f.origin, r.URL)
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, methodOrGet(r.Method), uri.String(), body)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "could not create request for %s", uri)
	}
	copyHeader(req.Header, r.Header)
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")

	res, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeNetwork, "could not fetch %s", uri)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeNetwork, "could not read response from %s", uri)
	}
	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       b,
		Type:       responseType(f.origin, uri, r.Mode),
		URL:        uri.String(),
	}, nil
}

// HandlerFetcher answers same-origin requests from an in-process handler,
// e.g. an http.FileServer over the application build.
// Requests to other origins go to Next.
type HandlerFetcher struct {
	Origin  *url.URL
	Handler http.Handler
	Next    Fetcher
}

func (f *HandlerFetcher) Fetch(ctx context.Context, r *Request) (*Response, error) {
	uri := resolve(f.Origin, r.URL)
	if !sameOrigin(f.Origin, uri) {
		if f.Next == nil {
			return nil, errors.Newf(errors.CodeNetwork, "no route to %s", uri.Host)
		}
		return f.Next.Fetch(ctx, r)
	}
	req, err := http.NewRequestWithContext(ctx, methodOrGet(r.Method), uri.String(), bytes.NewReader(r.Body))
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "could not create request for %s", uri)
	}
	req.RequestURI = uri.RequestURI()
	copyHeader(req.Header, r.Header)

	rs := tee.NewResponseSaver(nil)
	f.Handler.ServeHTTP(rs, req)
	return &Response{
		StatusCode: rs.StatusCode(),
		Header:     rs.Header(),
		Body:       rs.Body(),
		Type:       TypeBasic,
		URL:        uri.String(),
	}, nil
}

// FileHandler serves the files below root like http.FileServer,
// except that .../index.html answers with the file instead of redirecting to its directory.
func FileHandler(root http.FileSystem) http.Handler {
	files := http.FileServer(root)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/index.html") {
			files.ServeHTTP(w, r)
			return
		}
		// the file server serves index.html for its directory
		dir := r.Clone(r.Context())
		dir.URL.Path = strings.TrimSuffix(r.URL.Path, "index.html")
		dir.URL.RawPath = ""
		files.ServeHTTP(w, dir)
	})
}

func resolve(origin, u *url.URL) *url.URL {
	if u.IsAbs() || origin == nil {
		return u
	}
	return origin.ResolveReference(u)
}

func sameOrigin(origin, u *url.URL) bool {
	return origin != nil && origin.Scheme == u.Scheme && origin.Host == u.Host
}

// responseType types a network response the way a browser would.
func responseType(origin, u *url.URL, mode Mode) ResponseType {
	switch {
	case sameOrigin(origin, u):
		return TypeBasic
	case mode == ModeNoCORS:
		return TypeOpaque
	default:
		return TypeCORS
	}
}

func methodOrGet(method string) string {
	if method == "" {
		return http.MethodGet
	}
	return method
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a warkaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
