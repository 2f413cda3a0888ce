package rfc9211

import (
	"fmt"
	"strings"
)

// §  2.  The Cache-Status HTTP Response Header Field
// §
// §     The Cache-Status HTTP response header field indicates caches'
// §     handling of the request corresponding to the response it occurs in.

// HeaderName is the name of the Cache-Status header field.
const HeaderName = "Cache-Status"

// FwdReason is the value of the fwd parameter.
type FwdReason string

// §  2.2.  The fwd Parameter
// §
// §     "fwd" indicates that the request went forward towards the origin and
// §     why.
const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"

	// The cache was able to select a response for the request, but
	// it was stale.
	FwdReasonStale FwdReason = "stale"
)

// CacheStatus is a single member of the Cache-Status list.
type CacheStatus struct {
	// Name of the cache, e.g. the store that handled the request.
	Cache string
	// §  2.1.  The hit Parameter
	// §
	// §     "hit", when true, indicates that the request was satisfied by the
	// §     cache; that is, it was not forwarded, and the response was obtained
	// §     from the cache.
	IsHit     bool
	FwdReason FwdReason
	// §  2.3.  The fwd-status Parameter
	// §
	// §     The value of "fwd-status" indicates which status code the next-hop
	// §     server returned in response to the forwarded request.
	FwdStatus int
	// §  2.5.  The stored Parameter
	// §
	// §     "stored" indicates whether the cache stored the response; a true value
	// §     indicates that it did.
	Stored bool
	// §  2.8.  The detail Parameter
	// §
	// §     "detail" allows implementations to convey additional information not
	// §     captured in other parameters
	Detail string
}

func (cs *CacheStatus) Hit() {
	cs.IsHit = true
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.IsHit = false
	cs.FwdReason = reason
}

// String returns the header field value, e.g. `atd-static-v2; fwd=uri-miss; stored`.
func (cs CacheStatus) String() string {
	cache := cs.Cache
	if cache == "" {
		cache = "ATD"
	}
	params := []string{cache}
	if cs.IsHit {
		params = append(params, "hit")
	} else if cs.FwdReason != "" {
		params = append(params, "fwd="+string(cs.FwdReason))
	}
	if cs.FwdStatus != 0 {
		params = append(params, fmt.Sprintf("fwd-status=%d", cs.FwdStatus))
	}
	if cs.Stored {
		params = append(params, "stored")
	}
	if cs.Detail != "" {
		params = append(params, "detail="+cs.Detail)
	}
	return strings.Join(params, "; ")
}
