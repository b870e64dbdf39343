package store

import "errors"

var (
	// ErrStorageIO wraps database-level failures on the append and read paths.
	ErrStorageIO = errors.New("storage failure")

	// ErrUnsupportedBackend means the configured backend lacks a requested
	// capability, such as reading from an append-only archive.
	ErrUnsupportedBackend = errors.New("operation not supported by storage backend")

	// ErrSchemaMismatch means the database schema is newer than this binary
	// understands. Startup must fail rather than guess.
	ErrSchemaMismatch = errors.New("store schema version mismatch")

	// ErrTimestampRegression means a batch carried a timestamp older than the
	// latest stored snapshot. The batch is rejected to keep history ordered.
	ErrTimestampRegression = errors.New("snapshot timestamp precedes stored history")
)
