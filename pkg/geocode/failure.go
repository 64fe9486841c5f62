package geocode

import (
	"errors"
	"fmt"

	"github.com/dart-isr/donor-geo/internal/resilience"
)

// FailureKind classifies why an address did not resolve.
type FailureKind string

const (
	// KindNotFound means the service answered but had no acceptable match.
	KindNotFound FailureKind = "not_found"
	// KindInvalidInput means the address is too incomplete to look up.
	KindInvalidInput FailureKind = "invalid_input"
	// KindServiceError means the service could not be reached or refused the
	// request. It says nothing about the address.
	KindServiceError FailureKind = "service_error"
)

// Failure is the error returned for every unresolved geocode.
type Failure struct {
	Kind     FailureKind
	Provider string
	Err      error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("geocode: %s: %s", f.Provider, f.Kind)
	}
	return fmt.Sprintf("geocode: %s: %s: %v", f.Provider, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Permanent reports whether the failure is a property of the address and
// may be cached.
func (f *Failure) Permanent() bool {
	return f.Kind == KindNotFound || f.Kind == KindInvalidInput
}

func notFound(provider, format string, args ...any) *Failure {
	return &Failure{Kind: KindNotFound, Provider: provider, Err: fmt.Errorf(format, args...)}
}

func invalidInput(provider, format string, args ...any) *Failure {
	return &Failure{Kind: KindInvalidInput, Provider: provider, Err: fmt.Errorf(format, args...)}
}

func serviceError(provider string, err error) *Failure {
	return &Failure{Kind: KindServiceError, Provider: provider, Err: err}
}

// statusError builds the ServiceError for an unexpected HTTP status, marking
// it transient for 408, 429 and 5xx.
func statusError(provider string, status int) *Failure {
	err := fmt.Errorf("unexpected status %d", status)
	if resilience.IsTransientHTTPStatus(status) {
		err = resilience.NewTransientError(err, status)
	}
	return serviceError(provider, err)
}

// AsFailure extracts a *Failure from err. Errors that are not failures are
// reported as service errors.
func AsFailure(err error) (*Failure, bool) {
	if err == nil {
		return nil, false
	}
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return serviceError("", err), true
}

// KindOf returns the failure kind of err, or "" for nil.
func KindOf(err error) FailureKind {
	f, ok := AsFailure(err)
	if !ok {
		return ""
	}
	return f.Kind
}
