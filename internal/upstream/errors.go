package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited is returned when the upstream answers 429. It is not retried.
	ErrRateLimited = errors.New("Too many requests.")

	// ErrUpstreamUnavailable is returned for a JSON fetch answered with a 5xx.
	ErrUpstreamUnavailable = errors.New("Upstream is having issues, check if there's an outage")

	errTrailingData = errors.New("trailing data after JSON value")
)

// errorPayloadFallback is used when an error payload carries neither reason nor message.
const errorPayloadFallback = "Error parsing upstream error"

// TransportError wraps a failure to reach the upstream at all.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("Couldn't send request to upstream: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PayloadError is an application-level error reported in a JSON body.
type PayloadError struct {
	Code    int64
	Message string
}

func (e *PayloadError) Error() string {
	return e.Message
}
