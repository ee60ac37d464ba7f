package gomssql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracker1/gomssql/internal/testutil"
)

func streamConn(t *testing.T, f *testutil.Fake, rows ...string) *Conn {
	t.Helper()
	for _, r := range rows {
		f.StreamRows = append(f.StreamRows, []byte(r))
	}
	return openTestConn(t, f)
}

func TestCursor_DrainAndAutoClose(t *testing.T) {
	f := testutil.NewFake()
	conn := streamConn(t, f, `{"id": 1}`, `{"id": 2}`)
	ctx := context.Background()

	cur, err := conn.QueryStream(ctx, "SELECT id FROM t")
	require.NoError(t, err)

	row, err := cur.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(1), row["id"])

	row, err = cur.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(2), row["id"])

	// Exhaustion closes the cursor and yields (nil, nil) forever.
	row, err = cur.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, row)
	assert.Equal(t, 1, f.CallCount("stream.close"))

	row, err = cur.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, row)
	assert.Equal(t, 3, f.CallCount("stream.next"))
}

func TestCursor_CloseIdempotent(t *testing.T) {
	f := testutil.NewFake()
	conn := streamConn(t, f, `{"id": 1}`)
	ctx := context.Background()

	cur, err := conn.QueryStream(ctx, "SELECT id FROM t")
	require.NoError(t, err)

	fired := 0
	cur.OnClose(func() { fired++ })

	require.NoError(t, cur.Close())
	require.NoError(t, cur.Close())
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, f.CallCount("stream.close"))

	row, err := cur.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestCursor_OnCloseAfterClosed(t *testing.T) {
	f := testutil.NewFake()
	conn := streamConn(t, f)
	cur, err := conn.QueryStream(context.Background(), "SELECT 1")
	require.NoError(t, err)
	require.NoError(t, cur.Close())

	fired := false
	cur.OnClose(func() { fired = true })
	assert.True(t, fired)
}

func TestCursor_EmbeddedError(t *testing.T) {
	f := testutil.NewFake()
	conn := streamConn(t, f, `{"id": 1}`, `{"__error": "deadlock victim"}`)
	ctx := context.Background()

	cur, err := conn.QueryStream(ctx, "SELECT id FROM t")
	require.NoError(t, err)

	_, err = cur.Next(ctx)
	require.NoError(t, err)

	_, err = cur.Next(ctx)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "stream.next", cmdErr.Op)
	assert.Equal(t, "deadlock victim", cmdErr.Msg)

	// The failure flags the connection and terminates the stream.
	assert.True(t, conn.Broken())
	assert.Equal(t, 1, f.CallCount("stream.close"))
	row, err := cur.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestCursor_ContextCanceled(t *testing.T) {
	f := testutil.NewFake()
	conn := streamConn(t, f, `{"id": 1}`)

	cur, err := conn.QueryStream(context.Background(), "SELECT id FROM t")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = cur.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.CallCount("stream.next"))
}

func TestCursor_All(t *testing.T) {
	f := testutil.NewFake()
	conn := streamConn(t, f, `{"id": 1}`, `{"id": 2}`, `{"id": 3}`)
	ctx := context.Background()

	cur, err := conn.QueryStream(ctx, "SELECT id FROM t")
	require.NoError(t, err)

	rows, err := cur.All(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, 1, f.CallCount("stream.close"))
}

func TestCursor_RowsEarlyBreak(t *testing.T) {
	f := testutil.NewFake()
	conn := streamConn(t, f, `{"id": 1}`, `{"id": 2}`, `{"id": 3}`)
	ctx := context.Background()

	cur, err := conn.QueryStream(ctx, "SELECT id FROM t")
	require.NoError(t, err)

	var seen int
	for row, err := range cur.Rows(ctx) {
		require.NoError(t, err)
		require.NotNil(t, row)
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
	assert.Equal(t, 1, f.CallCount("stream.close"))
}

func TestCursor_ForEachStopsOnError(t *testing.T) {
	f := testutil.NewFake()
	conn := streamConn(t, f, `{"id": 1}`, `{"id": 2}`)
	ctx := context.Background()

	cur, err := conn.QueryStream(ctx, "SELECT id FROM t")
	require.NoError(t, err)

	calls := 0
	err = cur.ForEach(ctx, func(Row) error {
		calls++
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, f.CallCount("stream.close"))
}

func TestMapRows(t *testing.T) {
	f := testutil.NewFake()
	conn := streamConn(t, f, `{"id": 1}`, `{"id": 2}`)
	ctx := context.Background()

	cur, err := conn.QueryStream(ctx, "SELECT id FROM t")
	require.NoError(t, err)

	ids, err := MapRows(ctx, cur, func(r Row) (int, error) {
		return int(r["id"].(float64)), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids)
}

func TestFilterRows(t *testing.T) {
	f := testutil.NewFake()
	conn := streamConn(t, f, `{"id": 1}`, `{"id": 2}`, `{"id": 3}`)
	ctx := context.Background()

	cur, err := conn.QueryStream(ctx, "SELECT id FROM t")
	require.NoError(t, err)

	odd, err := FilterRows(ctx, cur, func(r Row) bool {
		return int(r["id"].(float64))%2 == 1
	})
	require.NoError(t, err)
	require.Len(t, odd, 2)
	assert.Equal(t, float64(3), odd[1]["id"])
}

func TestFoldRows(t *testing.T) {
	f := testutil.NewFake()
	conn := streamConn(t, f, `{"n": 10}`, `{"n": 20}`, `{"n": 12}`)
	ctx := context.Background()

	cur, err := conn.QueryStream(ctx, "SELECT n FROM t")
	require.NoError(t, err)

	sum, err := FoldRows(ctx, cur, 0, func(acc int, r Row) (int, error) {
		return acc + int(r["n"].(float64)), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, sum)
	assert.Equal(t, 1, f.CallCount("stream.close"))
}
