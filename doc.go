// Package gomssql is a client-side driver surface for SQL Server. It turns
// high-level calls (query, execute, stream, bulk-load, transact) into a
// small set of operations against a foreign execution boundary, and manages
// the lifetime of every resource (pools, connections, transactions,
// streaming cursors) so that partial failures never leak handles or corrupt
// shared state.
//
// The boundary itself (wire protocol, row encoding, native runtime) is
// external: anything implementing boundary.Boundary plugs in, either
// process-wide with RegisterBoundary or per call with WithBoundary.
//
// # Pools
//
// Pools are deduplicated by configuration identity: two Opens whose configs
// differ only in pool tuning or timeouts share one boundary pool, and each
// Pool.Close releases one reference. The boundary pool is destroyed when the
// last reference goes.
//
//	pool, err := gomssql.Open(ctx, gomssql.Config{
//	    Server:   "db.example.com",
//	    Database: "orders",
//	    Auth:     gomssql.Auth{Kind: gomssql.AuthSQL, Username: "app", Password: pw},
//	})
//	defer pool.Close()
//
//	conn, err := pool.Acquire(ctx)
//	defer conn.Shutdown(ctx)
//
// # Disposal
//
// Every connection must be disposed of exactly once, by one of two paths.
// Shutdown is the complete path: it rolls back abandoned transactions over
// the network and returns a healthy connection to its pool. Close is the
// synchronous best-effort path for scopes that cannot block: it
// force-deactivates transactions locally and evicts the connection when one
// was still active. In both cases a connection whose error flag is set is
// evicted, never reused.
//
// # Transactions and streams
//
// A transaction abandoned at disposal time is rolled back; nothing silently
// commits by default. Cursors opened under a transaction are closed before
// its commit or rollback reaches the network.
//
//	tx, err := conn.Begin(ctx, gomssql.WithIsolation(gomssql.SnapshotIsolation))
//	cur, err := tx.QueryStream(ctx, "SELECT id, total FROM orders")
//	for row, err := range cur.Rows(ctx) {
//	    ...
//	}
//	err = tx.Commit(ctx)
package gomssql
