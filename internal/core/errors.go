package core

import "errors"

var (
	// ErrInputInvalid marks a request rejected before any side effect.
	ErrInputInvalid = errors.New("invalid input")
	// ErrModelUnavailable is returned when scoring artifacts cannot be loaded.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrPersistence wraps failures of the record store.
	ErrPersistence = errors.New("persistence failure")
	// ErrNotFound is returned by stores for missing records.
	ErrNotFound = errors.New("record not found")
	// ErrCacheMiss is returned by cache repositories for absent or expired keys.
	ErrCacheMiss = errors.New("cache miss")
)
