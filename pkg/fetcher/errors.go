package fetcher

import "errors"

// Error taxonomy for the fetch path. Unauthorized and malformed responses are
// permanent for a given configuration and are never retried; unreachable and
// timeout errors are transient and retried with backoff.
var (
	// ErrUnauthorized means the API key was rejected or lacks permission.
	ErrUnauthorized = errors.New("presence source rejected credentials")

	// ErrUnreachable means the server could not be reached or returned a
	// server-side failure.
	ErrUnreachable = errors.New("presence source unreachable")

	// ErrTimeout means the request exceeded its deadline.
	ErrTimeout = errors.New("presence source timed out")

	// ErrMalformedResponse means the response body could not be decoded or
	// did not match the expected envelope.
	ErrMalformedResponse = errors.New("malformed presence source response")
)
