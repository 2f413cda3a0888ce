package atdcache

import (
	"net/url"
	"strings"
)

// RequestClass selects the caching policy for a request.
type RequestClass int

const (
	// Static asset of the application: cache first, populated on demand.
	ClassStatic RequestClass = iota
	// External ES module: stale while revalidate.
	ClassModule
	// Remote intelligence API: network only, offline fallback.
	ClassAPI
)

func (c RequestClass) String() string {
	switch c {
	case ClassModule:
		return "external-module"
	case ClassAPI:
		return "remote-intelligence-api"
	default:
		return "static-asset"
	}
}

const (
	DefaultModuleMarker = "esm.sh"
	DefaultAPIMarker    = "generativelanguage.googleapis.com"
)

// Classifier maps request URLs to classes by substring markers.
type Classifier struct {
	// Marker of the module delivery host.
	ModuleMarker string `yaml:"moduleMarker" env:"MODULE_MARKER"`
	// Marker of the intelligence service host.
	APIMarker string `yaml:"apiMarker" env:"API_MARKER"`
}

// DefaultClassifier recognises esm.sh modules and the Gemini API.
var DefaultClassifier = Classifier{
	ModuleMarker: DefaultModuleMarker,
	APIMarker:    DefaultAPIMarker,
}

// Classify returns the class of the request target.
// Every URL has exactly one class; the module marker is checked first.
func (c Classifier) Classify(u *url.URL) RequestClass {
	target := u.String()
	if c.ModuleMarker != "" && strings.Contains(target, c.ModuleMarker) {
		return ClassModule
	}
	if c.APIMarker != "" && strings.Contains(target, c.APIMarker) {
		return ClassAPI
	}
	return ClassStatic
}

// Classify uses the default markers.
func Classify(u *url.URL) RequestClass {
	return DefaultClassifier.Classify(u)
}
