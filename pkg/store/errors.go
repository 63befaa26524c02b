package store

import "errors"

var (
	// ErrNotFound is returned by Get-style lookups that find no row.
	ErrNotFound = errors.New("store: not found")

	// ErrOutOfOrderTransition is returned by AppendCallTransition when
	// the requested state ranks earlier than the call's current state
	// (§4.3 monotonicity guard) or the call is already terminal.
	ErrOutOfOrderTransition = errors.New("store: out-of-order call state transition")

	// ErrIdempotencyConflict is returned when an idempotency key is
	// reused with a request hash that does not match the one recorded
	// on first use (§3 invariant: (key, request_hash) is a function).
	ErrIdempotencyConflict = errors.New("store: idempotency key reused with a different request")

	// ErrSuppressed is returned by enqueue operations when the
	// destination address is on the suppression list (§4.8).
	ErrSuppressed = errors.New("store: destination address is suppressed")
)
