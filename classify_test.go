package atdcache

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		url  string
		want RequestClass
	}{
		{"https://esm.sh/react@19.0.0", ClassModule},
		{"https://esm.sh/@google/genai@1.30.0?target=es2022", ClassModule},
		{"https://generativelanguage.googleapis.com/v1beta/models/gemini-3-pro-preview:streamGenerateContent", ClassAPI},
		{"https://atd-intel.ai/index.html", ClassStatic},
		{"https://atd-intel.ai/", ClassStatic},
		{"https://cdn.tailwindcss.com/", ClassStatic},
		{"/logo.png", ClassStatic},
		// markers are plain substrings of the whole URL
		{"https://atd-intel.ai/proxy?to=esm.sh", ClassModule},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.url)
		if !assert.NoError(t, err) {
			continue
		}
		assert.Equal(t, tt.want, Classify(u), tt.url)
	}
}

func TestClassifierCustomMarkers(t *testing.T) {
	c := Classifier{ModuleMarker: "cdn.jsdelivr.net", APIMarker: "api.openai.com"}
	u, _ := url.Parse("https://cdn.jsdelivr.net/npm/lodash")
	assert.Equal(t, ClassModule, c.Classify(u))
	u, _ = url.Parse("https://api.openai.com/v1/chat")
	assert.Equal(t, ClassAPI, c.Classify(u))
	u, _ = url.Parse("https://esm.sh/react")
	assert.Equal(t, ClassStatic, c.Classify(u))
}

func TestEmptyMarkersNeverMatch(t *testing.T) {
	u, _ := url.Parse("https://esm.sh/react")
	assert.Equal(t, ClassStatic, Classifier{}.Classify(u))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "static-asset", ClassStatic.String())
	assert.Equal(t, "external-module", ClassModule.String())
	assert.Equal(t, "remote-intelligence-api", ClassAPI.String())
}
