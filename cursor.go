package gomssql

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/tracker1/gomssql/boundary"
)

// Cursor is a pull-based stream of rows backed by a boundary cursor handle.
// The sequence is finite and not restartable: once exhausted or closed it
// always yields nothing. Each Next call is one boundary round trip.
//
// A Cursor is owned by the Connection or Transaction that opened it and is
// closed automatically when the owner is disposed, when iteration completes,
// or when a helper finishes. Explicit Close is always safe.
type Cursor struct {
	b      boundary.Boundary
	handle boundary.Handle
	conn   *Conn // error-flag target for mid-stream failures; nil in tests

	mu      sync.Mutex
	closed  bool
	done    bool
	onClose []func()
}

func newCursor(b boundary.Boundary, handle boundary.Handle, conn *Conn) *Cursor {
	return &Cursor{b: b, handle: handle, conn: conn}
}

// Next fetches the next row. It returns (nil, nil) once the stream is
// exhausted or the cursor is closed, forever. A structured error the server
// embedded in the stream is surfaced as a CommandError and terminates
// iteration.
func (c *Cursor) Next(ctx context.Context) (Row, error) {
	c.mu.Lock()
	if c.closed || c.done {
		c.mu.Unlock()
		return nil, nil
	}
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload := c.b.StreamNext(ctx, c.handle)
	if payload == nil {
		c.mu.Lock()
		c.done = true
		c.mu.Unlock()
		c.Close()
		return nil, nil
	}

	if msg := gjson.GetBytes(payload, "__error"); msg.Exists() {
		c.Close()
		if c.conn != nil {
			c.conn.markBroken()
		}
		return nil, &CommandError{Op: "stream.next", Msg: msg.String()}
	}

	var row Row
	if err := json.Unmarshal(payload, &row); err != nil {
		c.Close()
		return nil, fmt.Errorf("decode stream row: %w", err)
	}
	return row, nil
}

// Close releases the boundary cursor and notifies every registered close
// callback exactly once, in registration order. Safe to call repeatedly and
// concurrently; only the first call does anything.
func (c *Cursor) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cbs := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	c.b.CloseStream(c.handle)
	for _, fn := range cbs {
		fn()
	}
	return nil
}

// OnClose registers a callback fired when the cursor closes. If the cursor
// is already closed the callback runs immediately and synchronously.
func (c *Cursor) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// All drains the remaining rows into a slice and closes the cursor.
func (c *Cursor) All(ctx context.Context) ([]Row, error) {
	defer c.Close()
	var rows []Row
	for {
		row, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return rows, nil
		}
		rows = append(rows, row)
	}
}

// ForEach pipes every remaining row into fn and closes the cursor when fn
// returns an error, the stream ends, or the context is cancelled.
func (c *Cursor) ForEach(ctx context.Context, fn func(Row) error) error {
	defer c.Close()
	for {
		row, err := c.Next(ctx)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// Rows converts the cursor into a single-pass range-over-func iterator.
// The cursor closes when the loop completes or the consumer breaks early.
func (c *Cursor) Rows(ctx context.Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		defer c.Close()
		for {
			row, err := c.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if row == nil {
				return
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// MapRows transforms every remaining row through fn, single pass, closing
// the cursor when done.
func MapRows[T any](ctx context.Context, c *Cursor, fn func(Row) (T, error)) ([]T, error) {
	var out []T
	err := c.ForEach(ctx, func(row Row) error {
		v, err := fn(row)
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FilterRows keeps the rows for which keep returns true, single pass,
// closing the cursor when done.
func FilterRows(ctx context.Context, c *Cursor, keep func(Row) bool) ([]Row, error) {
	var out []Row
	err := c.ForEach(ctx, func(row Row) error {
		if keep(row) {
			out = append(out, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FoldRows reduces the remaining rows into an accumulator, single pass,
// closing the cursor when done.
func FoldRows[A any](ctx context.Context, c *Cursor, acc A, fn func(A, Row) (A, error)) (A, error) {
	err := c.ForEach(ctx, func(row Row) error {
		var ferr error
		acc, ferr = fn(acc, row)
		return ferr
	})
	return acc, err
}
