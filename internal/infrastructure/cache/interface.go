// Package cache implements core.Cache, the normalized-HTML / diff-decision
// cache described in §4.6's configuration notes, as a two-tier Redis-backed
// store with an in-process LRU layer in front of it.
package cache

import "time"

// Config configures a RedisCache.
type Config struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

// DefaultConfig returns reasonable connection defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            "localhost:6379",
		PoolSize:        10,
		MinIdleConns:    1,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}
}

// Error wraps a cache operation failure with a stable code for callers that
// need to distinguish connection failures from ordinary misses.
type Error struct {
	Message string
	Code    string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs a cache Error.
func NewError(message, code string, cause error) *Error {
	return &Error{Message: message, Code: code, Cause: cause}
}

// IsConnectionError reports whether err is a connection-level cache failure.
func IsConnectionError(err error) bool {
	var ce *Error
	if e, ok := err.(*Error); ok {
		ce = e
	}
	return ce != nil && ce.Code == "CONNECTION_ERROR"
}
