package atdcache

import "github.com/jmgilman/go/errors"

var (
	// ErrNoResponse is returned when a static asset is neither stored nor reachable.
	// The caller falls back to its default error handling.
	ErrNoResponse = errors.New(errors.CodeNotFound, "no response available")
	// ErrNoWorker is returned by Registration operations that need an active worker.
	ErrNoWorker = errors.New(errors.CodeUnavailable, "no active worker")
)
