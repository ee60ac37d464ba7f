package gomssql

import "context"

// txContextKey is the context key for an ambient transaction.
type txContextKey struct{}

// WithTx returns a context that binds subsequent connection operations to
// tx. Conn.Query, Exec, Call, and QueryStream consult it when the
// transaction belongs to the same connection and is still active.
func WithTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext retrieves the ambient transaction, or nil if none is bound.
func TxFromContext(ctx context.Context) *Tx {
	if tx, ok := ctx.Value(txContextKey{}).(*Tx); ok {
		return tx
	}
	return nil
}

// StripTx returns a context without any ambient transaction, preserving
// deadline, cancellation, and other values. Use it when nested work must
// not inherit the caller's transaction.
func StripTx(ctx context.Context) context.Context {
	return &txStrippedContext{ctx}
}

// txStrippedContext hides the transaction value while delegating every
// other key to the parent.
type txStrippedContext struct {
	context.Context
}

// Value returns nil for the transaction key, delegating other keys to the
// parent.
func (c *txStrippedContext) Value(key any) any {
	if _, ok := key.(txContextKey); ok {
		return nil
	}
	return c.Context.Value(key)
}
