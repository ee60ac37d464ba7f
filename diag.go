package gomssql

import (
	"github.com/tidwall/gjson"

	"github.com/tracker1/gomssql/boundary"
)

// PoolDiag describes one boundary pool in a diagnostic snapshot.
type PoolDiag struct {
	ID    boundary.Handle
	Total int64
	Idle  int64
	InUse int64
	Max   int64
	Refs  int // client-side refcount; 0 when the pool is not in this process's registry
}

// ConnDiag describes one boundary connection in a diagnostic snapshot.
type ConnDiag struct {
	ID       boundary.Handle
	PoolID   boundary.Handle
	Pooled   bool
	ActiveTx bool
}

// Diagnostics is a merged view of the boundary's handle tables and this
// process's pool registry. It never contains credentials.
type Diagnostics struct {
	Pools       []PoolDiag
	Connections []ConnDiag
}

// Snapshot collects diagnostics from the given boundary (or the default one
// when no WithBoundary option is passed) and annotates each pool with the
// registry's refcount.
func Snapshot(opts ...Option) (*Diagnostics, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	b, err := resolveBoundary(o)
	if err != nil {
		return nil, err
	}

	info := b.DiagnosticInfo()
	refs := registry.refsByHandle()

	d := &Diagnostics{}
	gjson.GetBytes(info, "pools").ForEach(func(_, p gjson.Result) bool {
		id := boundary.Handle(p.Get("id").Uint())
		d.Pools = append(d.Pools, PoolDiag{
			ID:    id,
			Total: p.Get("total").Int(),
			Idle:  p.Get("idle").Int(),
			InUse: p.Get("in_use").Int(),
			Max:   p.Get("max").Int(),
			Refs:  refs[id],
		})
		return true
	})
	gjson.GetBytes(info, "connections").ForEach(func(_, c gjson.Result) bool {
		d.Connections = append(d.Connections, ConnDiag{
			ID:       boundary.Handle(c.Get("id").Uint()),
			PoolID:   boundary.Handle(c.Get("pool_id").Uint()),
			Pooled:   c.Get("is_pooled").Bool(),
			ActiveTx: c.Get("has_active_transaction").Bool(),
		})
		return true
	})
	return d, nil
}
