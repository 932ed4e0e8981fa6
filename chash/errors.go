package chash

import "github.com/pkg/errors"

var (
	// ErrConfiguration is returned for an invalid table configuration, e.g. a non-prime size.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrConsistency signals a broken internal invariant. It is a bug, never retry on it.
	ErrConsistency = errors.New("internal state inconsistent")
	// ErrNotFound is returned when a backend is not registered.
	ErrNotFound = errors.New("backend not found")
	// ErrNoBackends is returned when resolving against an empty table.
	ErrNoBackends = errors.New("no backends")
	// ErrInvalidBackend is returned for a backend identifier that cannot be registered.
	ErrInvalidBackend = errors.New("invalid backend")
)
