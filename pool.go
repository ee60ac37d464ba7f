package gomssql

import (
	"context"
	"sync/atomic"

	"github.com/tracker1/gomssql/boundary"
)

// sharedPool is one registered boundary pool. Every caller whose
// configuration resolves to the same dedup key shares one instance; refs
// counts those callers and is guarded by the registry mutex.
type sharedPool struct {
	b      boundary.Boundary
	handle boundary.Handle
	key    string
	cfg    Config // first registration's config; its tuning won
	refs   int
}

// Pool is one caller's reference to a shared, deduplicated connection pool.
// Close releases this caller's reference; the boundary pool itself is only
// destroyed when the last reference goes.
type Pool struct {
	shared *sharedPool
	closed atomic.Bool
}

// Handle returns the boundary pool handle, for diagnostics. Two Pools
// obtained from configurations with the same dedup key report the same
// handle.
func (p *Pool) Handle() boundary.Handle { return p.shared.handle }

// Acquire checks a connection out of the pool. On failure the boundary's
// last-error message is surfaced as an AcquireError and no handle is
// retained.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sp := p.shared
	h := sp.b.AcquireConn(ctx, sp.handle)
	if h == boundary.Invalid {
		msg := sp.b.LastError(sp.handle)
		if msg == "" {
			msg = "pool exhausted or connection creation failed"
		}
		return nil, &AcquireError{Op: "pool.acquire", Msg: msg}
	}
	debugf("conn %d acquired from pool %d", h, sp.handle)
	return newConn(sp.b, h, sp, sp.cfg.RequestTimeout), nil
}

// Close releases this caller's reference. Idempotent: only the first call
// decrements the shared refcount; the boundary pool is destroyed when the
// count reaches zero.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	registry.release(p.shared)
	return nil
}
