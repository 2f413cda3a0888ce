package atdcache

import (
	"encoding/json"
	"net/http"
)

const (
	OfflineMessage = "ATD Neural Link Offline: The service worker detected no network connection to the intelligence core."
	OfflineStatus  = "OFFLINE_UNAVAILABLE"
)

type offlineError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type offlineBody struct {
	Error offlineError `json:"error"`
}

// OfflineResponse is the response to an intelligence API request that could not reach the network.
// It is synthesized on every call and never stored.
func OfflineResponse() *Response {
	body, _ := json.Marshal(offlineBody{
		Error: offlineError{
			Code:    http.StatusServiceUnavailable,
			Message: OfflineMessage,
			Status:  OfflineStatus,
		},
	})
	return &Response{
		StatusCode: http.StatusServiceUnavailable,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       body,
		Type:       TypeDefault,
	}
}
