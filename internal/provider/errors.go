package provider

import (
	"errors"
	"fmt"
)

// InvalidDataError is a caller/input defect: unsupported method, missing
// required field, malformed date, missing external id. Never retried.
type InvalidDataError struct {
	Msg string
}

func (e *InvalidDataError) Error() string {
	return e.Msg
}

// InvalidData builds an InvalidDataError
func InvalidData(format string, args ...interface{}) error {
	return &InvalidDataError{Msg: fmt.Sprintf(format, args...)}
}

// IsInvalidData reports whether err is an InvalidDataError
func IsInvalidData(err error) bool {
	var target *InvalidDataError
	return errors.As(err, &target)
}

// ProviderError means the gateway or the network misbehaved: non-2xx,
// transport failure, malformed response body, missing OAuth token. Callers
// never need to distinguish these HTTP-layer failure modes.
type ProviderError struct {
	Msg string
	Err error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Unavailable wraps a gateway/transport failure into a ProviderError
func Unavailable(msg string, err error) error {
	return &ProviderError{Msg: msg, Err: err}
}

// IsProviderError reports whether err is a ProviderError
func IsProviderError(err error) bool {
	var target *ProviderError
	return errors.As(err, &target)
}
