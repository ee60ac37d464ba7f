package gomssql

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/tracker1/gomssql/internal/testutil"
)

func TestTx_CommitLifecycle(t *testing.T) {
	f := testutil.NewFake()
	conn := openTestConn(t, f)
	ctx := context.Background()

	tx, err := conn.Begin(ctx, WithIsolation(Serializable))
	require.NoError(t, err)
	assert.True(t, tx.Active())
	assert.Equal(t, Serializable, tx.Isolation())
	assert.NotEmpty(t, tx.ID())

	begin := gjson.ParseBytes(f.LastBeginReq)
	assert.Equal(t, tx.ID(), begin.Get("id").String())
	assert.Equal(t, "SERIALIZABLE", begin.Get("isolation").String())

	_, err = tx.Exec(ctx, "UPDATE t SET x = 1")
	require.NoError(t, err)
	cmd := gjson.ParseBytes(f.LastCommand)
	assert.Equal(t, tx.ID(), cmd.Get("transaction_id").String())

	require.NoError(t, tx.Commit(ctx))
	assert.False(t, tx.Active())
	assert.Equal(t, tx.ID(), f.LastTxID)

	// Terminal for good: every further operation fails fast.
	require.ErrorIs(t, tx.Commit(ctx), ErrTxDone)
	require.ErrorIs(t, tx.Rollback(ctx), ErrTxDone)
	_, err = tx.Query(ctx, "SELECT 1")
	require.ErrorIs(t, err, ErrTxDone)
	_, err = tx.Exec(ctx, "DELETE FROM t")
	require.ErrorIs(t, err, ErrTxDone)
	_, err = tx.Call(ctx, "dbo.usp")
	require.ErrorIs(t, err, ErrTxDone)
	_, err = tx.QueryStream(ctx, "SELECT 1")
	require.ErrorIs(t, err, ErrTxDone)
}

func TestTx_DefaultIsolation(t *testing.T) {
	f := testutil.NewFake()
	conn := openTestConn(t, f)

	tx, err := conn.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReadCommitted, tx.Isolation())
}

func TestTx_Rollback(t *testing.T) {
	f := testutil.NewFake()
	conn := openTestConn(t, f)
	ctx := context.Background()

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	assert.False(t, tx.Active())
	assert.Equal(t, 1, f.CallCount("tx.rollback"))

	// No implicit rollback for an already terminal transaction.
	require.NoError(t, conn.Shutdown(ctx))
	assert.Equal(t, 1, f.CallCount("tx.rollback"))
}

func TestTx_BeginFailure(t *testing.T) {
	f := testutil.NewFake()
	f.FailBegin = "cannot begin transaction"
	conn := openTestConn(t, f)

	_, err := conn.Begin(context.Background())
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "tx.begin", cmdErr.Op)
	assert.True(t, conn.Broken())
}

func TestTx_CommitFailureKeepsActive(t *testing.T) {
	f := testutil.NewFake()
	conn := openTestConn(t, f)
	ctx := context.Background()

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)

	f.FailCommit = "commit failed: connection reset"
	err = tx.Commit(ctx)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "tx.commit", cmdErr.Op)

	// Server state is unknown: the Tx stays active and the connection is
	// flagged, so disposal still attempts the rollback and then evicts.
	assert.True(t, tx.Active())
	assert.True(t, conn.Broken())

	f.FailCommit = ""
	require.NoError(t, conn.Shutdown(ctx))
	assert.Equal(t, 1, f.CallCount("tx.rollback"))
	assert.Equal(t, 1, f.CallCount("disconnect"))
}

func TestTx_CursorsCloseBeforeCommit(t *testing.T) {
	f := testutil.NewFake()
	f.StreamRows = [][]byte{[]byte(`{"id": 1}`)}
	conn := openTestConn(t, f)
	ctx := context.Background()

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.QueryStream(ctx, "SELECT id FROM t")
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))

	log := f.CallLog()
	closeAt := slices.Index(log, "stream.close")
	commitAt := slices.Index(log, "tx.commit")
	require.GreaterOrEqual(t, closeAt, 0)
	require.GreaterOrEqual(t, commitAt, 0)
	assert.Less(t, closeAt, commitAt)
}

func TestTx_CursorsCloseBeforeImplicitRollback(t *testing.T) {
	f := testutil.NewFake()
	f.StreamRows = [][]byte{[]byte(`{"id": 1}`)}
	conn := openTestConn(t, f)
	ctx := context.Background()

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.QueryStream(ctx, "SELECT id FROM t")
	require.NoError(t, err)

	require.NoError(t, conn.Shutdown(ctx))
	assert.False(t, tx.Active())

	log := f.CallLog()
	closeAt := slices.Index(log, "stream.close")
	rollbackAt := slices.Index(log, "tx.rollback")
	require.GreaterOrEqual(t, closeAt, 0)
	require.GreaterOrEqual(t, rollbackAt, 0)
	assert.Less(t, closeAt, rollbackAt)
}

func TestTx_ImplicitRollbackFailureSwallowed(t *testing.T) {
	f := testutil.NewFake()
	conn := openTestConn(t, f)
	ctx := context.Background()

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)

	f.FailRollback = "rollback failed"
	require.NoError(t, conn.Shutdown(ctx))
	assert.False(t, tx.Active())
	assert.Equal(t, 1, f.CallCount("disconnect"))
}

func TestTx_StreamCursorCarriesTxID(t *testing.T) {
	f := testutil.NewFake()
	f.StreamRows = [][]byte{[]byte(`{"id": 1}`)}
	conn := openTestConn(t, f)
	ctx := context.Background()

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.QueryStream(ctx, "SELECT id FROM t")
	require.NoError(t, err)

	cmd := gjson.ParseBytes(f.LastCommand)
	assert.Equal(t, tx.ID(), cmd.Get("transaction_id").String())
	require.NoError(t, tx.Rollback(ctx))
}

func TestTx_DistinctIDs(t *testing.T) {
	f := testutil.NewFake()
	conn := openTestConn(t, f)
	ctx := context.Background()

	tx1, err := conn.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx1.Commit(ctx))

	tx2, err := conn.Begin(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, tx1.ID(), tx2.ID())
	require.NoError(t, tx2.Rollback(ctx))
}
