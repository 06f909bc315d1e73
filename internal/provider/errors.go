package provider

import (
	"errors"
	"fmt"
)

// ErrBadSignature is returned when a webhook or connect-flow authenticity check fails.
var ErrBadSignature = errors.New("bad signature")

// ErrMalformedBody is returned when a webhook body is present but is not a JSON object.
var ErrMalformedBody = errors.New("malformed body")

// UpstreamAuthError reports a non-success response from a provider API.
type UpstreamAuthError struct {
	URL    string
	Body   string
	Status int
}

func (e *UpstreamAuthError) Error() string {
	return fmt.Sprintf("upstream auth error: %d from %s: %s", e.Status, e.URL, e.Body)
}

// UnsupportedEventError is returned for event keys missing from a provider's handler table.
type UnsupportedEventError struct {
	EventKey string
}

func (e *UnsupportedEventError) Error() string {
	return fmt.Sprintf("malformed/unsupported event: %s", e.EventKey)
}

// MissingParameterError is returned when a required parameter or body field is absent.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing parameter: %s", e.Name)
}

// InvalidParameterError is returned when a parameter is present but cannot be parsed.
type InvalidParameterError struct {
	Name  string
	Value string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %q", e.Name, e.Value)
}

// SigningError is returned when an app token cannot be signed.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing app token: %v", e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// IsClientError reports whether err should be answered with a 4xx rather than a 5xx.
func IsClientError(err error) bool {
	var (
		unsupported *UnsupportedEventError
		missing     *MissingParameterError
		invalid     *InvalidParameterError
	)
	return errors.Is(err, ErrBadSignature) ||
		errors.Is(err, ErrMalformedBody) ||
		errors.As(err, &unsupported) ||
		errors.As(err, &missing) ||
		errors.As(err, &invalid)
}
