package gomssql

import (
	"context"
	"sync"

	"github.com/tracker1/gomssql/boundary"
)

// Version is the current gomssql version
const Version = "1.0.0"

// defaultBoundary holds the process-wide boundary. The provider runs at most
// once, guarded by a sync.Once, so concurrent first-callers share a single
// initialization attempt and its cached outcome. There is no finalizer:
// teardown is the explicit CloseAll.
var defaultBoundary struct {
	mu       sync.Mutex
	provider func() (boundary.Boundary, error)
	once     sync.Once
	b        boundary.Boundary
	err      error
}

// RegisterBoundary installs the process-wide boundary provider. The provider
// is invoked lazily on the first entry-point call that needs it; calling
// RegisterBoundary after that initialization has happened has no effect.
func RegisterBoundary(provider func() (boundary.Boundary, error)) {
	defaultBoundary.mu.Lock()
	defaultBoundary.provider = provider
	defaultBoundary.mu.Unlock()
}

func getDefaultBoundary() (boundary.Boundary, error) {
	defaultBoundary.mu.Lock()
	provider := defaultBoundary.provider
	defaultBoundary.mu.Unlock()
	if provider == nil {
		return nil, ErrNoBoundary
	}
	defaultBoundary.once.Do(func() {
		defaultBoundary.b, defaultBoundary.err = provider()
	})
	return defaultBoundary.b, defaultBoundary.err
}

func resolveBoundary(o openOptions) (boundary.Boundary, error) {
	if o.b != nil {
		return o.b, nil
	}
	return getDefaultBoundary()
}

// Open opens (or joins) a connection pool for cfg. Configurations that share
// a dedup identity share one boundary pool: the first registration's pool
// tuning (min/max/idle timeout) wins, and later callers' tuning values are
// ignored.
//
// A deferred credential provider in cfg.Auth is resolved here, once, before
// any boundary call.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Pool, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	b, err := resolveBoundary(o)
	if err != nil {
		return nil, err
	}

	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg, err = cfg.resolveAuth(ctx)
	if err != nil {
		return nil, err
	}

	sp, err := registry.open(ctx, b, cfg)
	if err != nil {
		return nil, err
	}
	return &Pool{shared: sp}, nil
}

// Connect opens a standalone (non-pooled) connection. The caller owns it and
// must dispose of it with Shutdown or Close; disposal always disconnects.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Conn, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	b, err := resolveBoundary(o)
	if err != nil {
		return nil, err
	}

	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg, err = cfg.resolveAuth(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wire, err := cfg.marshalWire()
	if err != nil {
		return nil, err
	}
	h := b.Connect(ctx, wire)
	if h == boundary.Invalid {
		msg := b.LastError(boundary.Invalid)
		if msg == "" {
			msg = "boundary failed to connect"
		}
		return nil, &AcquireError{Op: "connect", Msg: msg}
	}
	debugf("standalone conn %d opened to %s:%d", h, cfg.Server, cfg.Port)
	return newConn(b, h, nil, cfg.RequestTimeout), nil
}

// CloseAll tears down every registered pool and tells each boundary that
// was in use, plus the default boundary if initialized, to drop all of its
// handles. Best effort; intended for process shutdown.
func CloseAll() {
	seen := make(map[boundary.Boundary]struct{})
	for _, b := range registry.drain() {
		seen[b] = struct{}{}
		b.CloseAll()
	}
	if b, err := getDefaultBoundaryIfReady(); err == nil && b != nil {
		if _, ok := seen[b]; !ok {
			b.CloseAll()
		}
	}
	debugf("all handles closed")
}

// getDefaultBoundaryIfReady returns the default boundary only if its
// one-time initialization already ran; it never triggers initialization.
func getDefaultBoundaryIfReady() (boundary.Boundary, error) {
	defaultBoundary.mu.Lock()
	defer defaultBoundary.mu.Unlock()
	return defaultBoundary.b, defaultBoundary.err
}
