package postgres

import "errors"

// Sentinel errors returned by PostgresPool and its health checker.
var (
	ErrNotConnected = errors.New("database pool is not connected")

	ErrAlreadyConnected = errors.New("database pool is already connected")

	ErrConnectionFailed = errors.New("failed to connect to database")

	ErrConnectionClosed = errors.New("database connection pool is closed")

	ErrHealthCheckFailed = errors.New("database health check failed")

	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

	ErrInvalidConfig = errors.New("invalid database configuration")

	ErrQueryTimeout = errors.New("query execution timed out")

	ErrTransactionFailed = errors.New("database transaction failed")

	ErrPreparedStatementFailed = errors.New("prepared statement creation failed")
)
