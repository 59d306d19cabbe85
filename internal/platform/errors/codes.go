// Package errors provides structured error handling for the chat engine.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Transport errors
	CodeNetwork        Code = "NETWORK"
	CodeServerRejected Code = "SERVER_REJECTED"
	CodeConnectionLost Code = "CONNECTION_LOST"

	// Ingress errors
	CodeStaleResponse  Code = "STALE_RESPONSE"
	CodeMalformedEvent Code = "MALFORMED_EVENT"

	// Pagination errors
	CodeAlreadyLoading Code = "ALREADY_LOADING"
	CodeNoMoreData     Code = "NO_MORE_DATA"

	// Command errors
	CodeTripClosed   Code = "TRIP_CLOSED"
	CodeEmptyContent Code = "EMPTY_CONTENT"
)

// Retryable reports whether an operation failing with this code may be
// retried by the caller without changing its input.
func (c Code) Retryable() bool {
	switch c {
	case CodeNetwork, CodeConnectionLost, CodeAlreadyLoading:
		return true
	default:
		return false
	}
}

// Silent reports whether errors with this code are discarded internally
// rather than surfaced to the presentation layer.
func (c Code) Silent() bool {
	switch c {
	case CodeStaleResponse, CodeMalformedEvent:
		return true
	default:
		return false
	}
}
