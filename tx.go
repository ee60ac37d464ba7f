package gomssql

import (
	"context"
	"encoding/json"
	"sync"
)

// IsolationLevel selects the transaction isolation level. The boundary maps
// these onto SET TRANSACTION ISOLATION LEVEL.
type IsolationLevel string

// Supported isolation levels.
const (
	ReadUncommitted   IsolationLevel = "READ_UNCOMMITTED"
	ReadCommitted     IsolationLevel = "READ_COMMITTED"
	RepeatableRead    IsolationLevel = "REPEATABLE_READ"
	SnapshotIsolation IsolationLevel = "SNAPSHOT"
	Serializable      IsolationLevel = "SERIALIZABLE"
)

type beginTxRequest struct {
	ID        string `json:"id"`
	Isolation string `json:"isolation"`
}

// Tx is a scoped unit of work on one connection. It is active from Begin
// until Commit, Rollback, or disposal of the owning connection; nothing
// silently commits by default, so a Tx abandoned at disposal time is rolled
// back. Every operation fails fast with ErrTxDone once the Tx is terminal.
//
// Cursors opened through the Tx are closed before the commit or rollback
// network call fires, so no cursor ever reads against a transaction context
// that is about to end.
type Tx struct {
	conn      *Conn
	id        string
	isolation IsolationLevel

	mu         sync.Mutex
	committed  bool
	rolledBack bool
	cursors    map[*Cursor]struct{}
}

// ID returns the generated transaction identifier carried in every command
// envelope bound to this Tx.
func (t *Tx) ID() string { return t.id }

// Isolation returns the isolation level the Tx was begun with.
func (t *Tx) Isolation() IsolationLevel { return t.isolation }

// Active reports whether the Tx has neither committed nor rolled back.
func (t *Tx) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.committed && !t.rolledBack
}

// Query runs a row query inside the transaction.
func (t *Tx) Query(ctx context.Context, sql string, params ...Param) ([]Row, error) {
	if !t.Active() {
		return nil, ErrTxDone
	}
	return t.conn.query(ctx, sql, params, t.id)
}

// Exec runs a non-query inside the transaction and returns rows affected.
func (t *Tx) Exec(ctx context.Context, sql string, params ...Param) (int64, error) {
	if !t.Active() {
		return 0, ErrTxDone
	}
	return t.conn.exec(ctx, sql, params, t.id)
}

// Call runs a rich exec (stored procedure) inside the transaction.
func (t *Tx) Call(ctx context.Context, proc string, params ...Param) (*CallResult, error) {
	if !t.Active() {
		return nil, ErrTxDone
	}
	return t.conn.call(ctx, proc, params, t.id)
}

// QueryStream opens a streaming cursor bound to the transaction. The Tx
// tracks the cursor and closes it before its own commit or rollback.
func (t *Tx) QueryStream(ctx context.Context, sql string, params ...Param) (*Cursor, error) {
	if !t.Active() {
		return nil, ErrTxDone
	}
	return t.conn.queryStream(ctx, sql, params, t)
}

// Commit closes the transaction's cursors, then commits. Fails with
// ErrTxDone when the Tx is already terminal. If the boundary call fails the
// Tx stays active (server state is unknown), the connection is error-flagged
// for eviction, and disposal will still perform the best-effort rollback.
func (t *Tx) Commit(ctx context.Context) error {
	if !t.Active() {
		return ErrTxDone
	}
	t.closeCursors()

	if msg := t.conn.b.CommitTx(ctx, t.conn.handle, t.id); msg != "" {
		t.conn.markBroken()
		return &CommandError{Op: "tx.commit", Msg: msg}
	}

	t.mu.Lock()
	t.committed = true
	t.mu.Unlock()
	t.conn.forgetTx(t)
	debugf("tx %s committed on conn %d", t.id, t.conn.handle)
	return nil
}

// Rollback closes the transaction's cursors, then rolls back. Fails with
// ErrTxDone when the Tx is already terminal.
func (t *Tx) Rollback(ctx context.Context) error {
	if !t.Active() {
		return ErrTxDone
	}
	t.closeCursors()

	if msg := t.conn.b.RollbackTx(ctx, t.conn.handle, t.id); msg != "" {
		t.conn.markBroken()
		return &CommandError{Op: "tx.rollback", Msg: msg}
	}

	t.mu.Lock()
	t.rolledBack = true
	t.mu.Unlock()
	t.conn.forgetTx(t)
	debugf("tx %s rolled back on conn %d", t.id, t.conn.handle)
	return nil
}

// rollbackOnDispose is the asynchronous-disposal path: close cursors, then
// roll back if still active. Rollback failures are swallowed; raising them
// would mask the caller's original error inside an already-terminal cascade.
func (t *Tx) rollbackOnDispose(ctx context.Context) {
	t.closeCursors()

	t.mu.Lock()
	active := !t.committed && !t.rolledBack
	t.rolledBack = t.rolledBack || active
	t.mu.Unlock()

	if !active {
		return
	}
	if msg := t.conn.b.RollbackTx(ctx, t.conn.handle, t.id); msg != "" {
		debugf("implicit rollback of tx %s failed: %s", t.id, msg)
	}
}

// forceDeactivate is the synchronous-disposal path: close cursors and mark
// the Tx terminal without a network rollback; the server reclaims the
// abandoned transaction when the connection itself is torn down. Reports
// whether the Tx was still active, which forces the connection's eviction.
func (t *Tx) forceDeactivate() bool {
	t.closeCursors()

	t.mu.Lock()
	active := !t.committed && !t.rolledBack
	t.rolledBack = t.rolledBack || active
	t.mu.Unlock()
	return active
}

func (t *Tx) closeCursors() {
	t.mu.Lock()
	cursors := make([]*Cursor, 0, len(t.cursors))
	for c := range t.cursors {
		cursors = append(cursors, c)
	}
	t.mu.Unlock()

	for _, c := range cursors {
		c.Close()
	}
}

func (t *Tx) trackCursor(c *Cursor) {
	t.mu.Lock()
	if t.cursors == nil {
		t.cursors = make(map[*Cursor]struct{})
	}
	t.cursors[c] = struct{}{}
	t.mu.Unlock()

	c.OnClose(func() {
		t.mu.Lock()
		delete(t.cursors, c)
		t.mu.Unlock()
	})
}

func marshalBeginTx(id string, isolation IsolationLevel) []byte {
	req, _ := json.Marshal(beginTxRequest{ID: id, Isolation: string(isolation)})
	return req
}
