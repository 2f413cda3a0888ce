package atdcache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	serializer "github.com/santimwamba/ATD---Artificial-Technology-Development/pkg/response-serializer"

	"github.com/jmgilman/go/errors"
)

// Mode is the request mode, as in the Fetch standard.
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeSameOrigin Mode = "same-origin"
	ModeCORS       Mode = "cors"
	ModeNoCORS     Mode = "no-cors"
)

// ResponseType tells where a response came from.
type ResponseType string

const (
	// Same-origin response.
	TypeBasic ResponseType = "basic"
	// Cross-origin response to a CORS request.
	TypeCORS ResponseType = "cors"
	// Cross-origin response to a no-cors request.
	TypeOpaque ResponseType = "opaque"
	// Response constructed by the interceptor itself.
	TypeDefault ResponseType = "default"
)

// Request is an intercepted outgoing request.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
	Mode   Mode
}

// NewRequest reads an incoming *http.Request into a Request.
// The body is read completely and closed.
func NewRequest(r *http.Request) (*Request, error) {
	req := &Request{
		Method: r.Method,
		URL:    r.URL,
		Header: r.Header.Clone(),
		Mode:   requestMode(r),
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if r.Body != nil {
		defer r.Body.Close()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidInput, "could not read request body")
		}
		req.Body = body
	}
	return req, nil
}

// IsNavigation reports whether the request loads a full page.
func (r *Request) IsNavigation() bool {
	return r.Mode == ModeNavigate
}

// requestMode derives the mode from fetch metadata.
// Without metadata, GETs preferring HTML are taken as navigations.
func requestMode(r *http.Request) Mode {
	switch mode := Mode(r.Header.Get("Sec-Fetch-Mode")); mode {
	case ModeNavigate, ModeSameOrigin, ModeCORS, ModeNoCORS:
		return mode
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		return ModeNavigate
	}
	return ModeCORS
}

// Response is a complete response returned to the page.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Type       ResponseType
	URL        string
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	c := *r
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = http.Header{}
	}
	c.Body = append([]byte(nil), r.Body...)
	return &c
}

// HTTPResponse converts the response for use by an http.RoundTripper.
func (r *Response) HTTPResponse(req *http.Request) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode)),
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// send writes the response to the client.
func (r *Response) send(w http.ResponseWriter) (int64, error) {
	copyHeader(w.Header(), r.Header)
	w.Header().Del("Content-Length")
	w.WriteHeader(r.StatusCode)
	n, err := w.Write(r.Body)
	return int64(n), err
}

func (r *Response) snapshot() serializer.Snapshot {
	return serializer.Snapshot{
		StatusCode: r.StatusCode,
		Header:     r.Header,
		Body:       r.Body,
		Type:       string(r.Type),
		URL:        r.URL,
	}
}

func responseFromSnapshot(s serializer.Snapshot) *Response {
	return &Response{
		StatusCode: s.StatusCode,
		Header:     s.Header,
		Body:       s.Body,
		Type:       ResponseType(s.Type),
		URL:        s.URL,
	}
}
