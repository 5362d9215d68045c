package provider

import (
	"errors"
	"fmt"
)

// Kind classifies a provider failure. It decides retry behaviour and is
// used as a metric label.
type Kind string

const (
	// KindTransient covers network failures, timeouts and throttling.
	// Transient calls are retried.
	KindTransient Kind = "transient"
	// KindAuth covers rejected or expired credentials. Never retried.
	KindAuth Kind = "auth"
	// KindProtocol covers malformed requests or responses. Never retried.
	KindProtocol Kind = "protocol"
	// KindUnavailable marks data that could not be produced at all, such as
	// an instrument refresh failing with no stale fallback.
	KindUnavailable Kind = "unavailable"
)

// Error is the provider failure surfaced to callers.
type Error struct {
	Kind  Kind
	Op    string
	Index string
	Err   error
}

func (e *Error) Error() string {
	if e.Index != "" {
		return fmt.Sprintf("provider %s %s: %s: %v", e.Op, e.Index, e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Transient(op, index string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Index: index, Err: err}
}

func Auth(op, index string, err error) *Error {
	return &Error{Kind: KindAuth, Op: op, Index: index, Err: err}
}

func Protocol(op, index string, err error) *Error {
	return &Error{Kind: KindProtocol, Op: op, Index: index, Err: err}
}

func Unavailable(op, index string, err error) *Error {
	return &Error{Kind: KindUnavailable, Op: op, Index: index, Err: err}
}

// KindOf extracts the failure kind, defaulting to transient for errors
// that did not come through this package.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// IsTransient reports whether the error is worth retrying.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsUnavailable reports whether the error means no data exists for the
// request, fresh or stale.
func IsUnavailable(err error) bool {
	return KindOf(err) == KindUnavailable
}
