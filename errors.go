package gomssql

import (
	"errors"
	"fmt"
)

// State errors: local and synchronous, raised before any boundary call.
var (
	// ErrConnClosed is returned when operating on a disposed connection
	ErrConnClosed = errors.New("connection is closed")

	// ErrTxDone is returned when operating on a committed or rolled-back
	// transaction
	ErrTxDone = errors.New("transaction no longer active")

	// ErrCursorClosed is returned when writing state on a closed cursor
	ErrCursorClosed = errors.New("cursor is closed")

	// ErrPoolClosed is returned when acquiring from a closed pool facade
	ErrPoolClosed = errors.New("pool is closed")

	// ErrNoBoundary is returned when no boundary has been registered and
	// none was supplied with WithBoundary
	ErrNoBoundary = errors.New("no boundary registered")

	// ErrInvalidConfig is the root of every configuration validation failure
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrFilestreamUnavailable is returned when the boundary does not
	// support FILESTREAM on this platform
	ErrFilestreamUnavailable = errors.New("filestream support unavailable")

	// ErrFilestreamClosed is returned when reading or writing a closed
	// filestream
	ErrFilestreamClosed = errors.New("filestream is closed")
)

// AcquireError reports a failed pool creation, pool checkout, or standalone
// connect. No usable handle exists when it is returned.
type AcquireError struct {
	Op  string // operation that failed: "pool.create", "pool.acquire", "connect"
	Msg string // boundary-reported reason
}

// Error implements the error interface
func (e *AcquireError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// CommandError reports a failed query, execute, stream-open, bulk-load, or
// transaction boundary call. The owning connection's error flag is set
// permanently when one is returned, so the connection is evicted instead of
// being returned to its pool.
type CommandError struct {
	Op  string // operation that failed: "query", "exec", "call", "stream.open", ...
	Msg string // boundary-reported reason
}

// Error implements the error interface
func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// ShapeError reports a caller/server contract mismatch in a decoded result:
// a missing output parameter or an out-of-range result-set index. It is
// local and synchronous.
type ShapeError struct {
	Msg string
}

// Error implements the error interface
func (e *ShapeError) Error() string {
	return e.Msg
}
