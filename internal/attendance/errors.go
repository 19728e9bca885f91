package attendance

import (
	"errors"
	"fmt"
)

// Kind classifies authorization failures. Kinds are assigned at the throw
// site and mapped 1:1 to HTTP statuses by the API layer; retry-worthiness is
// never inferred from message text.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidToken: token unknown or already rotated away.
	KindInvalidToken
	// KindTokenExpired: token past its expiration. No grace period.
	KindTokenExpired
	// KindNotEnrolled: the student has no enrollment for the class.
	KindNotEnrolled
	// KindTransientStore: store outage during a read check. Retryable, and
	// deliberately distinct from an authorization denial.
	KindTransientStore
	// KindWrite: the attendance insert failed. No partial state remains
	// because no prior stage writes anything.
	KindWrite
)

func (k Kind) String() string {
	switch k {
	case KindInvalidToken:
		return "invalid_token"
	case KindTokenExpired:
		return "token_expired"
	case KindNotEnrolled:
		return "not_enrolled"
	case KindTransientStore:
		return "transient_store"
	case KindWrite:
		return "write_failed"
	default:
		return "unknown"
	}
}

// Retryable reports whether the caller should retry automatically.
func (k Kind) Retryable() bool {
	return k == KindTransientStore
}

// Error is a typed authorization failure.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

func wrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, msg: msg, err: err}
}

// KindOf extracts the failure kind from an error, or KindUnknown.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}
