package vps

import (
	"errors"
	"fmt"
)

// Kind classifies a lifecycle failure. Every error crossing the
// manager boundary carries exactly one of these, so the command
// surface can render a deterministic message without inspecting
// runtime-specific error types.
type Kind string

const (
	KindRuntimeUnavailable     Kind = "runtime_unavailable"
	KindDuplicateName          Kind = "duplicate_name"
	KindPolicyViolation        Kind = "policy_violation"
	KindQuotaExceeded          Kind = "quota_exceeded"
	KindNotManaged             Kind = "not_managed"
	KindPermissionDenied       Kind = "permission_denied"
	KindRuntimeObjectMissing   Kind = "runtime_object_missing"
	KindRuntimeOperationFailed Kind = "runtime_operation_failed"
	KindPersistenceFailed      Kind = "persistence_failed"
)

// Error is the tagged error type used throughout the lifecycle
// manager. It wraps an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match two *Error values by kind, so callers can
// use sentinel errors like ErrNotManaged as targets.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// E builds a tagged error with a rendered message.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a tagged error around an underlying cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Sentinel targets for errors.Is checks.
var (
	ErrRuntimeUnavailable     = &Error{Kind: KindRuntimeUnavailable, Message: "container runtime unavailable"}
	ErrDuplicateName          = &Error{Kind: KindDuplicateName, Message: "instance name already exists"}
	ErrPolicyViolation        = &Error{Kind: KindPolicyViolation, Message: "image blocked by policy"}
	ErrQuotaExceeded          = &Error{Kind: KindQuotaExceeded, Message: "quota exceeded"}
	ErrNotManaged             = &Error{Kind: KindNotManaged, Message: "no such managed instance"}
	ErrPermissionDenied       = &Error{Kind: KindPermissionDenied, Message: "permission denied"}
	ErrRuntimeObjectMissing   = &Error{Kind: KindRuntimeObjectMissing, Message: "runtime container is gone"}
	ErrRuntimeOperationFailed = &Error{Kind: KindRuntimeOperationFailed, Message: "runtime operation failed"}
	ErrPersistenceFailed      = &Error{Kind: KindPersistenceFailed, Message: "state persistence failed"}
)

// KindOf extracts the kind from an error chain. Errors without a
// tagged *Error in the chain map to KindRuntimeOperationFailed, the
// catch-all for unclassified failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRuntimeOperationFailed
}
