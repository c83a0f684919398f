package model

import "errors"

// Error categories. Wrap them with goerr.Wrap and test with errors.Is.
var (
	// ErrConfiguration means a required upstream credential is missing
	ErrConfiguration = errors.New("configuration error")

	// ErrUpstream means the generative provider failed, before or during the stream
	ErrUpstream = errors.New("upstream generation error")

	// ErrValidation means the request was rejected before any network call
	ErrValidation = errors.New("validation error")

	// ErrTransport means the relay could not be reached or returned no readable body
	ErrTransport = errors.New("transport error")

	// ErrStorageUnavailable means the durable store is disabled or cannot accept writes
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrHistoryWrite means a completed generation could not be written to history
	ErrHistoryWrite = errors.New("history write error")
)

// ErrorKind is the machine readable class sent with a relay error response
type ErrorKind string

const (
	ErrorKindConfiguration ErrorKind = "configuration"
	ErrorKindValidation    ErrorKind = "validation"
	ErrorKindUpstream      ErrorKind = "upstream"
)

// ErrorKindOf classifies err for an error response. Anything that is not a
// configuration or validation error is reported as upstream.
func ErrorKindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrConfiguration):
		return ErrorKindConfiguration
	case errors.Is(err, ErrValidation):
		return ErrorKindValidation
	default:
		return ErrorKindUpstream
	}
}

// Err returns the error class for k. Unknown or empty kinds map to ErrUpstream.
func (k ErrorKind) Err() error {
	switch k {
	case ErrorKindConfiguration:
		return ErrConfiguration
	case ErrorKindValidation:
		return ErrValidation
	default:
		return ErrUpstream
	}
}
