package gomssql

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracker1/gomssql/boundary"
)

// Conn is a single logical session, either checked out of a Pool or opened
// standalone with Connect. It owns every Transaction and Cursor it spawns
// and disposes of them in child-then-owner order.
//
// The first failed query, exec, stream-open, bulk, or begin boundary call
// sets a permanent error flag: a flagged connection is evicted (disconnected)
// at disposal instead of being returned to its pool, so a future checkout
// can never observe its broken state.
//
// Two disposal entry points exist. Shutdown is the complete path: it rolls
// abandoned transactions back over the network before deciding between pool
// release and eviction. Close is the synchronous best-effort path for scopes
// that cannot block on network calls: it force-deactivates transactions
// without a rollback and evicts the connection if any was still active.
// Both are idempotent; the second call performs no boundary operation.
type Conn struct {
	b              boundary.Boundary
	handle         boundary.Handle
	pool           *sharedPool // nil = standalone
	requestTimeout time.Duration

	mu      sync.Mutex
	closed  bool
	broken  bool
	txs     map[*Tx]struct{}
	cursors map[*Cursor]struct{} // cursors opened outside any transaction
}

func newConn(b boundary.Boundary, handle boundary.Handle, pool *sharedPool, requestTimeout time.Duration) *Conn {
	return &Conn{
		b:              b,
		handle:         handle,
		pool:           pool,
		requestTimeout: requestTimeout,
		txs:            make(map[*Tx]struct{}),
		cursors:        make(map[*Cursor]struct{}),
	}
}

// Handle returns the boundary handle, for diagnostics.
func (c *Conn) Handle() boundary.Handle { return c.handle }

// Pooled reports whether the connection belongs to a pool.
func (c *Conn) Pooled() bool { return c.pool != nil }

// Broken reports whether the permanent error flag is set.
func (c *Conn) Broken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// guard rejects operations on a disposed connection and honors caller
// cancellation before anything reaches the boundary.
func (c *Conn) guard(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}
	return ctx.Err()
}

func (c *Conn) markBroken() {
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
}

// commandFailed flags the connection and surfaces the boundary's message.
func (c *Conn) commandFailed(op string) error {
	c.markBroken()
	msg := c.b.LastError(c.handle)
	if msg == "" {
		msg = "boundary reported failure without a message"
	}
	return &CommandError{Op: op, Msg: msg}
}

// ctxTxID resolves a transaction bound ambiently via WithTx. Only a still
// active transaction belonging to this connection binds the command.
func (c *Conn) ctxTxID(ctx context.Context) (string, error) {
	tx := TxFromContext(ctx)
	if tx == nil || tx.conn != c {
		return "", nil
	}
	if !tx.Active() {
		return "", ErrTxDone
	}
	return tx.id, nil
}

// Query runs a row query and returns every row. A transaction attached with
// WithTx binds the command to it.
func (c *Conn) Query(ctx context.Context, sql string, params ...Param) ([]Row, error) {
	txID, err := c.ctxTxID(ctx)
	if err != nil {
		return nil, err
	}
	return c.query(ctx, sql, params, txID)
}

func (c *Conn) query(ctx context.Context, sql string, params []Param, txID string) ([]Row, error) {
	if err := c.guard(ctx); err != nil {
		return nil, err
	}
	cmd, err := buildCommand(sql, params, txID, c.requestTimeout, CommandText)
	if err != nil {
		return nil, err
	}
	payload := c.b.Query(ctx, c.handle, cmd)
	if payload == nil {
		return nil, c.commandFailed("query")
	}
	return decodeRows(payload)
}

// Exec runs a non-query and returns the number of rows affected.
func (c *Conn) Exec(ctx context.Context, sql string, params ...Param) (int64, error) {
	txID, err := c.ctxTxID(ctx)
	if err != nil {
		return 0, err
	}
	return c.exec(ctx, sql, params, txID)
}

func (c *Conn) exec(ctx context.Context, sql string, params []Param, txID string) (int64, error) {
	if err := c.guard(ctx); err != nil {
		return 0, err
	}
	cmd, err := buildCommand(sql, params, txID, c.requestTimeout, CommandText)
	if err != nil {
		return 0, err
	}
	payload := c.b.ExecNonQuery(ctx, c.handle, cmd)
	if payload == nil {
		return 0, c.commandFailed("exec")
	}
	return decodeRowsAffected(payload), nil
}

// Call runs a stored procedure as a rich exec: multiple result sets, rows
// affected, and OUTPUT parameter values.
func (c *Conn) Call(ctx context.Context, proc string, params ...Param) (*CallResult, error) {
	txID, err := c.ctxTxID(ctx)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, proc, params, txID)
}

func (c *Conn) call(ctx context.Context, proc string, params []Param, txID string) (*CallResult, error) {
	if err := c.guard(ctx); err != nil {
		return nil, err
	}
	cmd, err := buildCommand(proc, params, txID, c.requestTimeout, CommandStoredProcedure)
	if err != nil {
		return nil, err
	}
	payload := c.b.Exec(ctx, c.handle, cmd)
	if payload == nil {
		return nil, c.commandFailed("call")
	}
	return decodeCallResult(payload)
}

// QueryStream opens a pull-based cursor over the query's rows. A
// transaction attached with WithTx owns the cursor and closes it before its
// own commit or rollback; otherwise the connection owns it.
func (c *Conn) QueryStream(ctx context.Context, sql string, params ...Param) (*Cursor, error) {
	tx := TxFromContext(ctx)
	if tx != nil && tx.conn == c {
		if !tx.Active() {
			return nil, ErrTxDone
		}
		return c.queryStream(ctx, sql, params, tx)
	}
	return c.queryStream(ctx, sql, params, nil)
}

func (c *Conn) queryStream(ctx context.Context, sql string, params []Param, tx *Tx) (*Cursor, error) {
	if err := c.guard(ctx); err != nil {
		return nil, err
	}
	txID := ""
	if tx != nil {
		txID = tx.id
	}
	cmd, err := buildCommand(sql, params, txID, c.requestTimeout, CommandText)
	if err != nil {
		return nil, err
	}
	h := c.b.OpenStream(ctx, c.handle, cmd)
	if h == boundary.Invalid {
		return nil, c.commandFailed("stream.open")
	}

	cur := newCursor(c.b, h, c)
	if tx != nil {
		tx.trackCursor(cur)
	} else {
		c.trackCursor(cur)
	}
	debugf("stream cursor %d opened on conn %d", h, c.handle)
	return cur, nil
}

// BulkLoad inserts req.Rows into req.Table in batches and returns the total
// rows affected.
func (c *Conn) BulkLoad(ctx context.Context, req BulkRequest) (int64, error) {
	if err := c.guard(ctx); err != nil {
		return 0, err
	}
	wire, err := req.marshal()
	if err != nil {
		return 0, err
	}
	payload := c.b.BulkLoad(ctx, c.handle, wire)
	if payload == nil {
		return 0, c.commandFailed("bulk")
	}
	return decodeRowsAffected(payload), nil
}

// TxOption configures Begin.
type TxOption func(*txOptions)

type txOptions struct {
	isolation IsolationLevel
}

// WithIsolation selects the isolation level for a new transaction. The
// default is ReadCommitted.
func WithIsolation(level IsolationLevel) TxOption {
	return func(o *txOptions) {
		o.isolation = level
	}
}

// Begin starts a transaction. The Tx is tracked by the connection and rolled
// back implicitly if still active when the connection is shut down.
func (c *Conn) Begin(ctx context.Context, opts ...TxOption) (*Tx, error) {
	if err := c.guard(ctx); err != nil {
		return nil, err
	}
	o := txOptions{isolation: ReadCommitted}
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	if msg := c.b.BeginTx(ctx, c.handle, marshalBeginTx(id, o.isolation)); msg != "" {
		c.markBroken()
		return nil, &CommandError{Op: "tx.begin", Msg: msg}
	}

	tx := &Tx{conn: c, id: id, isolation: o.isolation}
	c.mu.Lock()
	c.txs[tx] = struct{}{}
	c.mu.Unlock()
	debugf("tx %s begun on conn %d (%s)", id, c.handle, o.isolation)
	return tx, nil
}

// Cancel requests best-effort cancellation of whatever is in flight on this
// connection. Advisory only.
func (c *Conn) Cancel() {
	c.b.Cancel(c.handle)
}

func (c *Conn) trackCursor(cur *Cursor) {
	c.mu.Lock()
	c.cursors[cur] = struct{}{}
	c.mu.Unlock()

	cur.OnClose(func() {
		c.mu.Lock()
		delete(c.cursors, cur)
		c.mu.Unlock()
	})
}

func (c *Conn) forgetTx(tx *Tx) {
	c.mu.Lock()
	delete(c.txs, tx)
	c.mu.Unlock()
}

// snapshotOwned marks the connection disposed and returns what it owned.
// The second disposal call gets ok=false and must do nothing.
func (c *Conn) snapshotOwned() (txs []*Tx, cursors []*Cursor, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, false
	}
	c.closed = true
	for tx := range c.txs {
		txs = append(txs, tx)
	}
	for cur := range c.cursors {
		cursors = append(cursors, cur)
	}
	c.txs = nil
	c.cursors = nil
	return txs, cursors, true
}

// Shutdown disposes of the connection completely: every owned transaction
// has its cursors closed and is rolled back if still active (errors
// swallowed, best effort), orphaned cursors are closed, and only after
// every issued cleanup call has completed is the connection either
// released to its pool (pool-owned and error-free) or disconnected.
func (c *Conn) Shutdown(ctx context.Context) error {
	txs, cursors, ok := c.snapshotOwned()
	if !ok {
		return nil
	}

	for _, tx := range txs {
		tx.rollbackOnDispose(ctx)
	}
	for _, cur := range cursors {
		cur.Close()
	}

	c.mu.Lock()
	broken := c.broken
	c.mu.Unlock()

	if c.pool != nil && !broken {
		debugf("conn %d released to pool %d", c.handle, c.pool.handle)
		c.b.ReleaseConn(c.pool.handle, c.handle)
	} else {
		debugf("conn %d disconnected (pooled=%t broken=%t)", c.handle, c.pool != nil, broken)
		c.b.Disconnect(c.handle)
	}
	return nil
}

// Close disposes of the connection synchronously: transactions are
// force-deactivated without a network rollback (the server reclaims an
// abandoned transaction when the connection is torn down), cursors are
// closed, and the connection is evicted rather than returned to its pool
// whenever a transaction was still active or the error flag is set.
func (c *Conn) Close() error {
	txs, cursors, ok := c.snapshotOwned()
	if !ok {
		return nil
	}

	hadActive := false
	for _, tx := range txs {
		if tx.forceDeactivate() {
			hadActive = true
		}
	}
	for _, cur := range cursors {
		cur.Close()
	}

	c.mu.Lock()
	broken := c.broken
	c.mu.Unlock()

	if c.pool != nil && !broken && !hadActive {
		debugf("conn %d released to pool %d", c.handle, c.pool.handle)
		c.b.ReleaseConn(c.pool.handle, c.handle)
	} else {
		debugf("conn %d evicted (pooled=%t broken=%t abandonedTx=%t)", c.handle, c.pool != nil, broken, hadActive)
		c.b.Disconnect(c.handle)
	}
	return nil
}
