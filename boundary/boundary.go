// Package boundary defines the foreign execution surface that gomssql drives.
//
// This package defines the interface a boundary implementation must satisfy
// to work with gomssql. The boundary owns the wire protocol, row encoding,
// and native runtime; gomssql owns resource lifecycle, pooling identity, and
// the command envelope. Everything crossing the boundary is either an opaque
// integer Handle or a JSON payload.
//
// # Sentinel protocol
//
// Every handle-returning call reports failure by returning Invalid, and every
// payload-returning call by returning nil. The human-readable reason is then
// available through LastError for the handle the call was issued against
// (Invalid for Connect/CreatePool failures, which have no handle yet).
// LastError retrieves and clears the stored message.
//
// # Fast and slow calls
//
// Operations taking a context.Context are network round trips and must be
// treated as suspension points. Operations without a context only mutate the
// boundary's handle tables and return promptly; callers may invoke them from
// cleanup paths that cannot block.
package boundary

import "context"

// Handle is an opaque integer reference to boundary-side state: a pool, a
// connection, a streaming cursor, or a filestream.
type Handle uint64

// Invalid is the failure sentinel. No live resource is ever keyed by it.
const Invalid Handle = 0

// Boundary is the call surface gomssql drives. Implementations must be safe
// for concurrent use; gomssql guarantees it never uses a single connection,
// transaction, or cursor handle from two logical callers at once.
type Boundary interface {
	// CreatePool creates a server-side connection pool from a wire-form
	// configuration. Returns Invalid on failure.
	CreatePool(ctx context.Context, configJSON []byte) Handle

	// AcquireConn checks a connection out of a pool. Returns Invalid when
	// the pool is exhausted or connection creation fails; the reason is
	// available via LastError(pool).
	AcquireConn(ctx context.Context, pool Handle) Handle

	// ReleaseConn returns a healthy connection to its pool.
	ReleaseConn(pool, conn Handle)

	// ClosePool destroys a pool and every idle connection it holds.
	ClosePool(pool Handle)

	// Connect opens a standalone (non-pooled) connection.
	Connect(ctx context.Context, configJSON []byte) Handle

	// Disconnect tears a connection down permanently. Used both for
	// standalone connections and for evicting unhealthy pooled ones.
	Disconnect(conn Handle)

	// Query runs a row query command envelope and returns a JSON array of
	// row objects, or nil on failure.
	Query(ctx context.Context, conn Handle, cmdJSON []byte) []byte

	// ExecNonQuery runs a non-query command envelope and returns
	// {"rowsAffected": n}, or nil on failure.
	ExecNonQuery(ctx context.Context, conn Handle, cmdJSON []byte) []byte

	// Exec runs a rich-exec command envelope and returns
	// {"rowsAffected": n, "resultSets": [...], "outputParams": {...}},
	// or nil on failure.
	Exec(ctx context.Context, conn Handle, cmdJSON []byte) []byte

	// OpenStream starts a streaming query and returns a cursor handle, or
	// Invalid on failure.
	OpenStream(ctx context.Context, conn Handle, cmdJSON []byte) Handle

	// StreamNext returns the next row object for a cursor, or nil when the
	// cursor is exhausted or unknown. A non-nil payload may instead carry
	// {"__error": "..."} when the server reported a failure mid-stream;
	// callers must treat that as a command failure, not a row.
	StreamNext(ctx context.Context, cursor Handle) []byte

	// CloseStream drops a cursor's boundary-side state.
	CloseStream(cursor Handle)

	// BulkLoad runs a bulk-insert request and returns {"rowsAffected": n},
	// or nil on failure.
	BulkLoad(ctx context.Context, conn Handle, reqJSON []byte) []byte

	// BeginTx starts a transaction described by {"id": ..., "isolation": ...}.
	// Returns an empty string on success, else the error message.
	BeginTx(ctx context.Context, conn Handle, reqJSON []byte) string

	// CommitTx commits the identified transaction. Empty string on success.
	CommitTx(ctx context.Context, conn Handle, txID string) string

	// RollbackTx rolls the identified transaction back. Empty string on
	// success.
	RollbackTx(ctx context.Context, conn Handle, txID string) string

	// Cancel requests best-effort cancellation of whatever is in flight on
	// a connection. Advisory only; completion is not guaranteed.
	Cancel(conn Handle)

	// LastError retrieves and clears the stored failure message for a
	// handle. Connect and CreatePool failures are stored under Invalid.
	LastError(h Handle) string

	// DiagnosticInfo returns a JSON snapshot of pool and connection counts.
	// It never includes credentials.
	DiagnosticInfo() []byte

	// SetDebug toggles boundary-side debug logging.
	SetDebug(enabled bool)

	// CloseAll drops every pool, connection, cursor, and filestream.
	CloseAll()

	// FilestreamAvailable reports whether FILESTREAM access is supported by
	// this boundary on this platform.
	FilestreamAvailable() bool

	// FilestreamOpen opens a FILESTREAM path described by
	// {"path": ..., "tx_context_base64": ..., "mode": ...}. Returns Invalid
	// on failure.
	FilestreamOpen(reqJSON []byte) Handle

	// FilestreamRead reads up to maxBytes (0 = everything) and returns
	// {"data": base64, "length": n} or {"__error": "..."}; nil for an
	// unknown handle.
	FilestreamRead(fs Handle, maxBytes int) []byte

	// FilestreamWrite writes data and returns the number of bytes written,
	// 0 on failure.
	FilestreamWrite(fs Handle, data []byte) int

	// FilestreamClose drops a filestream handle.
	FilestreamClose(fs Handle)
}
