package provider

import "errors"

// Provider errors.
var (
	// ErrNoAPIKey is returned when the selected provider has no key.
	ErrNoAPIKey = errors.New("API key not configured")

	// ErrUnknownProvider is returned for an unrecognized provider name.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrEmptyResponse is returned when a stream ends with no content.
	ErrEmptyResponse = errors.New("provider returned empty response")

	// ErrNoProgress is returned when a stream stalls past the
	// no-progress timeout.
	ErrNoProgress = errors.New("stream made no progress")

	// ErrNoJSON is returned when no JSON object is found in a response.
	ErrNoJSON = errors.New("no JSON object in response")
)
