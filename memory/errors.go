package memory

import "errors"

var (
	// ErrConfiguration marks an unsupported backend selector or a missing
	// credential. Fatal at construction time.
	ErrConfiguration = errors.New("memory: configuration error")

	// ErrNotInitialized is returned by store operations invoked before a
	// successful Initialize (or after Close).
	ErrNotInitialized = errors.New("memory: store not initialized")

	// ErrNotFound is returned when updating a record that does not exist.
	ErrNotFound = errors.New("memory: record not found")

	// ErrBackend wraps network or database failures.
	ErrBackend = errors.New("memory: backend error")

	// ErrDimensionMismatch is returned when an embedding length differs from
	// the provider dimension recorded at initialization.
	ErrDimensionMismatch = errors.New("memory: embedding dimension mismatch")

	// ErrInvalidMemoryType is returned when parsing an unknown memory type.
	ErrInvalidMemoryType = errors.New("memory: invalid memory type")
)
