// Package certerr defines the error taxonomy shared by the DNS, ACME, store
// and rotation layers. Callers decide retry behavior from the error kind, not
// from provider-specific error strings.
package certerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for retry policy purposes
type Kind string

const (
	// KindConfiguration is fatal: invalid zone/identity mapping, bad
	// credentials shape, hostname outside the managed zone. Never retried
	// automatically; requires an operator fix.
	KindConfiguration Kind = "configuration"

	// KindTransient covers network errors and provider 5xx responses.
	// Retried with exponential backoff.
	KindTransient Kind = "transient"

	// KindRateLimited covers ACME or DNS provider quota responses. Retried
	// on a long fixed schedule, distinct from the transient backoff curve.
	KindRateLimited Kind = "rate_limited"

	// KindValidation means the authority rejected or never validated the
	// challenge. Retried a bounded number of times before the identity is
	// marked degraded.
	KindValidation Kind = "validation"

	// KindStoreIntegrity means a partial certificate record was detected.
	// Fatal for that write; the previous record stays active.
	KindStoreIntegrity Kind = "store_integrity"
)

// Error carries a kind, the failing operation and the underlying cause
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Configuration wraps err as a fatal configuration error
func Configuration(op string, err error) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

// Transient wraps err as a retryable provider/network error
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// RateLimited wraps err as a provider quota error
func RateLimited(op string, err error) *Error {
	return &Error{Kind: KindRateLimited, Op: op, Err: err}
}

// Validation wraps err as a challenge validation failure
func Validation(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// StoreIntegrity wraps err as a partial-write detection
func StoreIntegrity(op string, err error) *Error {
	return &Error{Kind: KindStoreIntegrity, Op: op, Err: err}
}

// KindOf returns the kind of err, or KindTransient when err carries no
// explicit classification. Unclassified failures default to retryable so a
// provider hiccup never permanently wedges an identity.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsRetryable reports whether err may be retried automatically
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConfiguration, KindStoreIntegrity:
		return false
	default:
		return true
	}
}
