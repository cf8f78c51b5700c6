package orchestrator

import (
	"errors"
	"fmt"

	"github.com/sabaipics/face-indexer/internal/faceapi"
)

// ErrorType discriminates pipeline-level failures.
type ErrorType string

const (
	// ErrorNotFound means a referenced resource is gone (photo row, event,
	// stored image). Terminal.
	ErrorNotFound ErrorType = "not_found"
	// ErrorDatabase means a persistence or infrastructure read/write
	// failed. Retryable.
	ErrorDatabase ErrorType = "database"
	// ErrorFaceService wraps a provider taxonomy error; retry behavior
	// follows the wrapped error's flags.
	ErrorFaceService ErrorType = "face_service"
	// ErrorTransform means the job payload or provider response could not
	// be interpreted. Terminal.
	ErrorTransform ErrorType = "transform"
)

// ProcessingError is the pipeline's failure vocabulary, one level above
// the provider taxonomy. The orchestrator branches on Type plus the
// wrapped provider flags and nothing else.
type ProcessingError struct {
	Type      ErrorType
	Resource  string
	Operation string
	Message   string
	Cause     error
}

func (e *ProcessingError) Error() string {
	switch e.Type {
	case ErrorNotFound:
		return fmt.Sprintf("indexing: %s not found", e.Resource)
	case ErrorDatabase:
		return fmt.Sprintf("indexing: %s failed: %v", e.Operation, e.Cause)
	case ErrorTransform:
		return fmt.Sprintf("indexing: %s: %v", e.Message, e.Cause)
	default:
		return fmt.Sprintf("indexing: face service: %v", e.Cause)
	}
}

func (e *ProcessingError) Unwrap() error { return e.Cause }

func notFoundErr(resource string) *ProcessingError {
	return &ProcessingError{Type: ErrorNotFound, Resource: resource}
}

func databaseErr(operation string, cause error) *ProcessingError {
	return &ProcessingError{Type: ErrorDatabase, Operation: operation, Cause: cause}
}

func faceServiceErr(cause error) *ProcessingError {
	return &ProcessingError{Type: ErrorFaceService, Cause: cause}
}

func transformErr(message string, cause error) *ProcessingError {
	return &ProcessingError{Type: ErrorTransform, Message: message, Cause: cause}
}

// Retryable reports whether the failure is worth another delivery and
// whether it was a throttle signal.
func (e *ProcessingError) Retryable() (retryable, throttle bool) {
	switch e.Type {
	case ErrorNotFound, ErrorTransform:
		return false, false
	case ErrorDatabase:
		return true, false
	default:
		fe, ok := faceapi.As(e.Cause)
		if !ok {
			return false, false
		}
		if fe.Kind != faceapi.KindProviderFailed {
			return false, false
		}
		return fe.Retryable, fe.Throttle
	}
}

// Name is the short error label recorded on the photo row.
func (e *ProcessingError) Name() string {
	switch e.Type {
	case ErrorNotFound:
		return "ResourceNotFound"
	case ErrorDatabase:
		return "DatabaseError"
	case ErrorTransform:
		return "TransformError"
	default:
		fe, ok := faceapi.As(e.Cause)
		if !ok {
			return "FaceServiceError"
		}
		switch fe.Kind {
		case faceapi.KindNotFound:
			return "ResourceNotFound"
		case faceapi.KindInvalidInput:
			return "InvalidInput"
		default:
			return fe.ErrorName
		}
	}
}

// AsProcessingError unwraps err into a *ProcessingError if it is one.
func AsProcessingError(err error) (*ProcessingError, bool) {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
