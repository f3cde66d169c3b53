// Package errkind names the error taxonomy so every boundary (RPC,
// WebSocket) can map an internal failure to a stable code without
// string-matching error messages.
package errkind

import "errors"

type Kind int

const (
	Unknown Kind = iota
	Validation
	Capacity
	RateLimited
	StorageTransient
	StorageFatal
	CollectorLocal
	SubscriberSlow
	Cancelled
	NotFound
	Busy
)

// Error wraps an underlying error with a stable kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
