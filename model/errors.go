package model

import "errors"

// ErrorKind classifies pipeline and store failures. ProviderUnavailable and
// PermissionDenied are recoverable at the detector group level: the group
// contributes an empty result and the error is recorded on the ScanResult.
type ErrorKind int

const (
	ErrUnknown ErrorKind = iota
	ErrProviderUnavailable
	ErrPermissionDenied
	ErrMalformedResource
	ErrValidation
	ErrNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case ErrProviderUnavailable:
		return "provider_unavailable"
	case ErrPermissionDenied:
		return "permission_denied"
	case ErrMalformedResource:
		return "malformed_resource"
	case ErrValidation:
		return "validation_error"
	case ErrNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewValidationError(msg string) *Error {
	return &Error{Kind: ErrValidation, Message: msg}
}

func NewNotFoundError(msg string) *Error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

func WrapProviderUnavailable(cause error, msg string) *Error {
	return &Error{Kind: ErrProviderUnavailable, Message: msg, Cause: cause}
}

func WrapPermissionDenied(cause error, msg string) *Error {
	return &Error{Kind: ErrPermissionDenied, Message: msg, Cause: cause}
}

func WrapMalformedResource(cause error, msg string) *Error {
	return &Error{Kind: ErrMalformedResource, Message: msg, Cause: cause}
}

// KindOf returns the classification of err, or ErrUnknown for plain errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrUnknown
}

func IsValidation(err error) bool {
	return KindOf(err) == ErrValidation
}

func IsNotFound(err error) bool {
	return KindOf(err) == ErrNotFound
}

// IsRecoverable reports whether a detector group failure should be recorded
// and skipped rather than propagated.
func IsRecoverable(err error) bool {
	k := KindOf(err)
	return k == ErrProviderUnavailable || k == ErrPermissionDenied
}
