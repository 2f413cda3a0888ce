package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrorMethodNotSupported = fmt.Errorf("Method not supported")

const methodSeparator = ":"

// CacheKeyer derives store keys from requests.
// A key is the request method followed by the absolute request URL without fragment,
// e.g. `GET:https://atd-intel.ai/index.html`.
type CacheKeyer struct {
	// Origin of the application.
	// Relative request URLs are resolved against it.
	Origin *url.URL
}

func NewCacheKeyer(origin *url.URL) CacheKeyer {
	return CacheKeyer{Origin: origin}
}

// Storable reports whether responses to requests with the given method can be stored and matched.
// Only GET is, like in the browser Cache API.
func Storable(method string) bool {
	return method == "" || method == http.MethodGet
}

// Resolve returns the absolute URL of u, without its fragment.
func (c CacheKeyer) Resolve(u *url.URL) *url.URL {
	abs := *u
	if !u.IsAbs() && c.Origin != nil {
		abs = *c.Origin.ResolveReference(u)
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return &abs
}

// GetKey returns the key for a request with the given method and URL.
func (c CacheKeyer) GetKey(method string, u *url.URL) string {
	if method == "" {
		method = http.MethodGet
	}
	return method + methodSeparator + c.Resolve(u).String()
}

// PathKey returns the key of a GET request for a root-relative path of the origin.
func (c CacheKeyer) PathKey(path string) (string, error) {
	u, err := c.ResolvePath(path)
	if err != nil {
		return "", err
	}
	return c.GetKey(http.MethodGet, u), nil
}

// ResolvePath resolves a root-relative path (e.g. a manifest entry) against the origin.
func (c CacheKeyer) ResolvePath(path string) (*url.URL, error) {
	u, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("Malformed path %s: %w", path, err)
	}
	return c.Resolve(u), nil
}

// GetRequestFromKey generates a request equal to the one that resulted in the provided key.
// It returns an error if the request cannot for some reason be deducted.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	if !Storable(method) {
		return nil, ErrorMethodNotSupported
	}
	return http.NewRequest(method, uri, nil)
}
