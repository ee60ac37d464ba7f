package gomssql

import (
	"context"
	"sync"

	"github.com/tracker1/gomssql/boundary"
)

// poolRegistry deduplicates boundary pools by configuration identity and
// refcounts the callers sharing each one. A single mutex serializes every
// open and close on the same identity, so a decrement can never be lost and
// a pool can never be destroyed twice. The mutex stays held across boundary
// pool creation: two concurrent first-openers must not race one identity
// into two boundary pools.
type poolRegistry struct {
	mu    sync.Mutex
	pools map[string]*sharedPool
}

var registry = &poolRegistry{pools: make(map[string]*sharedPool)}

// open returns the shared pool for cfg's identity, creating it on first
// request. cfg must already be normalized and credential-resolved. On a
// dedup hit the existing pool's tuning stays in force and cfg's tuning is
// ignored; first registration wins.
func (r *poolRegistry) open(ctx context.Context, b boundary.Boundary, cfg Config) (*sharedPool, error) {
	key := cfg.DedupKey()

	r.mu.Lock()
	defer r.mu.Unlock()

	if sp, ok := r.pools[key]; ok {
		sp.refs++
		debugf("pool dedup hit for %q, refs=%d", key, sp.refs)
		return sp, nil
	}

	wire, err := cfg.marshalWire()
	if err != nil {
		return nil, err
	}
	h := b.CreatePool(ctx, wire)
	if h == boundary.Invalid {
		msg := b.LastError(boundary.Invalid)
		if msg == "" {
			msg = "boundary failed to create pool"
		}
		return nil, &AcquireError{Op: "pool.create", Msg: msg}
	}

	sp := &sharedPool{b: b, handle: h, key: key, cfg: cfg, refs: 1}
	r.pools[key] = sp
	debugf("pool %d created for %q", h, key)
	return sp, nil
}

// release drops one reference; the boundary pool is destroyed and the
// identity deregistered when the last reference goes.
func (r *poolRegistry) release(sp *sharedPool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sp.refs--
	if sp.refs > 0 {
		debugf("pool %d released, refs=%d", sp.handle, sp.refs)
		return
	}
	delete(r.pools, sp.key)
	sp.b.ClosePool(sp.handle)
	debugf("pool %d destroyed", sp.handle)
}

// refsByHandle reports the live refcount per boundary pool handle, for
// diagnostics.
func (r *poolRegistry) refsByHandle() map[boundary.Handle]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[boundary.Handle]int, len(r.pools))
	for _, sp := range r.pools {
		out[sp.handle] = sp.refs
	}
	return out
}

// drain empties the registry without per-pool boundary closes and returns
// the distinct boundaries that were in use. CloseAll wipes boundary state
// wholesale, so individual ClosePool calls would be redundant.
func (r *poolRegistry) drain() []boundary.Boundary {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[boundary.Boundary]struct{})
	var out []boundary.Boundary
	for _, sp := range r.pools {
		if _, ok := seen[sp.b]; !ok {
			seen[sp.b] = struct{}{}
			out = append(out, sp.b)
		}
	}
	r.pools = make(map[string]*sharedPool)
	return out
}

// boundaries lists the distinct boundaries of currently registered pools.
func (r *poolRegistry) boundaries() []boundary.Boundary {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[boundary.Boundary]struct{})
	var out []boundary.Boundary
	for _, sp := range r.pools {
		if _, ok := seen[sp.b]; !ok {
			seen[sp.b] = struct{}{}
			out = append(out, sp.b)
		}
	}
	return out
}
