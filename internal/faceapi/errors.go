package faceapi

import (
	"errors"
	"fmt"
)

// Kind discriminates the error taxonomy.
type Kind string

const (
	// KindNotFound means a referenced resource does not exist
	// (collection, image, face). Never retryable.
	KindNotFound Kind = "not_found"
	// KindInvalidInput means the request itself was rejected (bad image
	// format, empty bytes, out-of-range parameter). Never retryable.
	KindInvalidInput Kind = "invalid_input"
	// KindProviderFailed means the provider call failed; Retryable and
	// Throttle qualify how.
	KindProviderFailed Kind = "provider_failed"
)

// Error is the shared failure vocabulary for all face providers.
type Error struct {
	Kind Kind

	// not_found
	Resource string
	ID       string

	// invalid_input
	Field  string
	Reason string

	// provider_failed
	Provider  string
	Retryable bool
	Throttle  bool
	ErrorName string

	Cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("face service: %s not found: %s", e.Resource, e.ID)
	case KindInvalidInput:
		return fmt.Sprintf("face service: invalid %s: %s", e.Field, e.Reason)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("face service: %s failed: %s: %v", e.Provider, e.ErrorName, e.Cause)
		}
		return fmt.Sprintf("face service: %s failed: %s", e.Provider, e.ErrorName)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// NewNotFound reports a missing resource. Terminal for the caller.
func NewNotFound(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Resource: resource, ID: id}
}

// NewInvalidInput reports a rejected request. Terminal for the caller.
func NewInvalidInput(field, reason string) *Error {
	return &Error{Kind: KindInvalidInput, Field: field, Reason: reason}
}

// NewProviderFailed reports a provider-side failure, classifying the
// provider's error name against the known transient list.
func NewProviderFailed(provider, errorName string, cause error) *Error {
	retryable, throttle := classifyErrorName(errorName)
	return &Error{
		Kind:      KindProviderFailed,
		Provider:  provider,
		Retryable: retryable,
		Throttle:  throttle,
		ErrorName: errorName,
		Cause:     cause,
	}
}

// transientNames maps known provider error names to their throttle flag.
// Anything absent defaults to non-retryable.
var transientNames = map[string]bool{
	"ThrottlingException":                    true,
	"ProvisionedThroughputExceededException": true,
	"LimitExceededException":                 true,
	"ServiceUnavailableException":            false,
	"ServiceUnavailable":                     false,
	"InternalServerError":                    false,
	"RequestTimeout":                         false,
	"ConnectionError":                        false,
}

func classifyErrorName(name string) (retryable, throttle bool) {
	t, ok := transientNames[name]
	if !ok {
		return false, false
	}
	return true, t
}

// As unwraps err into a taxonomy *Error if it is one.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsAlreadyExists reports whether err is the not-an-error case of creating
// a collection that another worker created first. Callers treat it as
// success.
func IsAlreadyExists(err error) bool {
	fe, ok := As(err)
	return ok && fe.Kind == KindProviderFailed && fe.ErrorName == "ResourceAlreadyExistsException"
}
