package tracking

import "errors"

// Sentinel error kinds, wrapped with %w by every backend so callers can
// use errors.Is regardless of which backend is wired, mirroring
// internal/platform/apierr's style but tailored to storage failure kinds
// rather than HTTP status codes.
var (
	// ErrNotFound is returned by GetTracking/GetSourceState when no
	// record exists.
	ErrNotFound = errors.New("tracking: not found")
	// ErrConflict is returned by Precommit/Commit/Delete when the
	// caller's WriteExpectation does not match the backend's current
	// state (optimistic concurrency lost the race).
	ErrConflict = errors.New("tracking: write expectation conflict")
	// ErrSerialization means the stored record bytes could not be
	// decoded; this indicates corruption or a schema mismatch, never a
	// normal runtime condition.
	ErrSerialization = errors.New("tracking: serialization failure")
	// ErrBackend wraps a failure from the underlying storage system
	// itself (connection, transport, backend-reported fault) as opposed
	// to a protocol-level condition.
	ErrBackend = errors.New("tracking: backend failure")
)
