// Package storage provides custom error types for the snapshot/diff/alert
// persistence layer shared by the sqlite and postgres backends.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrInvalidProfile indicates invalid deployment profile configuration.
// Returned when profile value is not "lite" or "standard",
// or when storage.backend doesn't match profile requirements.
type ErrInvalidProfile struct {
	Profile string // Profile value from config ("lite", "standard", or invalid)
	Cause   error  // Underlying validation error
}

func (e *ErrInvalidProfile) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid deployment profile '%s': %v", e.Profile, e.Cause)
	}
	return fmt.Sprintf("invalid deployment profile: %s (must be 'lite' or 'standard')", e.Profile)
}

func (e *ErrInvalidProfile) Unwrap() error {
	return e.Cause
}

// ErrStorageInitFailed indicates storage backend initialization failure.
// Returned when SQLite file creation fails, Postgres connection fails,
// or schema initialization fails.
type ErrStorageInitFailed struct {
	Backend string // Storage backend name ("sqlite", "postgres")
	Profile string // Deployment profile ("lite", "standard")
	Cause   error  // Underlying error (connection, file I/O, etc.)
}

func (e *ErrStorageInitFailed) Error() string {
	return fmt.Sprintf("storage initialization failed (backend=%s, profile=%s): %v",
		e.Backend, e.Profile, e.Cause)
}

func (e *ErrStorageInitFailed) Unwrap() error {
	return e.Cause
}

// ErrInvalidFilePath indicates invalid SQLite file path.
// Returned when path contains "..", forbidden prefixes (/etc, /sys, /proc, /dev),
// or is empty (Lite profile).
type ErrInvalidFilePath struct {
	Path   string // Invalid path value
	Reason string // Why it's invalid (e.g., "contains '..'", "forbidden prefix")
}

func (e *ErrInvalidFilePath) Error() string {
	return fmt.Sprintf("invalid file path '%s': %s", e.Path, e.Reason)
}

// ErrConnectionFailed indicates storage connection failure.
// Returned when:
//   - SQLite file cannot be opened (permissions, disk full)
//   - Postgres connection times out or fails
//   - Connection pool exhausted
//   - Any query or statement fails in the sqlite or postgres adapter
type ErrConnectionFailed struct {
	Backend string // "sqlite" or "postgres"
	Cause   error  // Underlying error (network, file I/O, etc.)
}

func (e *ErrConnectionFailed) Error() string {
	return fmt.Sprintf("storage connection failed (%s): %v", e.Backend, e.Cause)
}

func (e *ErrConnectionFailed) Unwrap() error {
	return e.Cause
}

// ErrSchemaInitFailed indicates database schema initialization failure.
// Returned when:
//   - SQLite schema creation fails (table/index creation)
//   - Postgres migration fails
//   - Foreign key constraint violations
type ErrSchemaInitFailed struct {
	Backend string // "sqlite" or "postgres"
	Table   string // Table name that failed (optional)
	Cause   error  // Underlying SQL error
}

func (e *ErrSchemaInitFailed) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("schema initialization failed (%s, table=%s): %v",
			e.Backend, e.Table, e.Cause)
	}
	return fmt.Sprintf("schema initialization failed (%s): %v", e.Backend, e.Cause)
}

func (e *ErrSchemaInitFailed) Unwrap() error {
	return e.Cause
}

// ErrDiskFull indicates disk space exhaustion (SQLite only).
// ClassifyError labels it disk_full, but the SQLite adapter never returns
// it: a write that fails for lack of space surfaces as ErrConnectionFailed.
// Recommended action: clean up old snapshots/diffs, expand the PVC, or
// switch the deployment profile to standard/postgres.
type ErrDiskFull struct {
	Path      string // SQLite file path
	FileSize  int64  // Current file size (bytes)
	Available int64  // Available disk space (bytes), 0 if unknown
}

func (e *ErrDiskFull) Error() string {
	if e.Available > 0 {
		return fmt.Sprintf("disk full: SQLite file %s (size=%d bytes, available=%d bytes)",
			e.Path, e.FileSize, e.Available)
	}
	return fmt.Sprintf("disk full: SQLite file %s (size=%d bytes)", e.Path, e.FileSize)
}

// Error type classification labels, used only for metrics cardinality -
// keep these low and stable.
const (
	ErrorTypeConnection = "connection"
	ErrorTypeTimeout    = "timeout"
	ErrorTypeNotFound   = "not_found"
	ErrorTypeValidation = "validation"
	ErrorTypeDiskFull   = "disk_full"
	ErrorTypeSchema     = "schema"
	ErrorTypeUnknown    = "unknown"
)

// ClassifyError labels a storage error for the operation/error-rate metrics.
// Most sqlite repository methods, and the postgres GetCurrent, CreateSnapshot
// and alert Create, pass their query error through this to RecordError; the
// remaining methods record nothing.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case IsNotFoundError(err):
		return ErrorTypeNotFound
	case IsTimeoutError(err):
		return ErrorTypeTimeout
	case IsConnectionError(err):
		return ErrorTypeConnection
	case IsValidationError(err):
		return ErrorTypeValidation
	case IsDiskFullError(err):
		return ErrorTypeDiskFull
	case IsSchemaError(err):
		return ErrorTypeSchema
	default:
		return ErrorTypeUnknown
	}
}

// IsConnectionError reports whether err is or wraps an ErrConnectionFailed.
// Both adapters wrap failed queries in ErrConnectionFailed too, so this does
// not tell a failed connection attempt apart from a failed query.
func IsConnectionError(err error) bool {
	var connErr *ErrConnectionFailed
	return errors.As(err, &connErr)
}

// IsTimeoutError reports whether err is a context deadline/cancellation
// surfaced during a capture or storage call, so callers can tell a slow
// query apart from a genuinely missing row.
func IsTimeoutError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// IsNotFoundError reports whether err is the "no rows" sentinel from either
// backend driver - sqlite's database/sql or postgres's pgx.
func IsNotFoundError(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

func IsValidationError(err error) bool {
	var pathErr *ErrInvalidFilePath
	if errors.As(err, &pathErr) {
		return true
	}
	var profileErr *ErrInvalidProfile
	return errors.As(err, &profileErr)
}

func IsDiskFullError(err error) bool {
	var diskErr *ErrDiskFull
	return errors.As(err, &diskErr)
}

func IsSchemaError(err error) bool {
	var schemaErr *ErrSchemaInitFailed
	return errors.As(err, &schemaErr)
}
