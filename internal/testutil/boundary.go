// Package testutil provides test utilities for gomssql
package testutil

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tracker1/gomssql/boundary"
)

// Fake is an in-memory boundary.Boundary for tests. It hands out sequential
// handles, records every call in order, and lets tests script results and
// inject failures per operation.
//
// Failure injection: setting one of the Fail* fields to a non-empty message
// makes the corresponding operation fail once semantics-side (Invalid handle,
// nil payload, or non-empty string) with that message retrievable through
// LastError.
type Fake struct {
	mu         sync.Mutex
	nextHandle uint64
	calls      []string
	lastErr    map[boundary.Handle]string

	pools   map[boundary.Handle][]byte          // pool handle -> config JSON
	conns   map[boundary.Handle]boundary.Handle // conn handle -> pool handle (Invalid = standalone)
	txs     map[boundary.Handle]string          // conn handle -> active tx id
	cursors map[boundary.Handle][][]byte        // cursor handle -> remaining rows
	files   map[boundary.Handle]*fakeFile

	// Failure injection. Empty string means the operation succeeds.
	FailCreatePool string
	FailAcquire    string
	FailConnect    string
	FailQuery      string
	FailExec       string
	FailCall       string
	FailOpenStream string
	FailBulk       string
	FailBegin      string
	FailCommit     string
	FailRollback   string

	// Scripted results. Nil falls back to a minimal valid payload.
	QueryResult []byte
	ExecResult  []byte
	CallResult  []byte
	BulkResult  []byte
	StreamRows  [][]byte // rows handed to each newly opened cursor

	// Captured requests, most recent per kind.
	LastConfig   []byte
	LastCommand  []byte
	LastBulk     []byte
	LastBeginReq []byte
	LastTxID     string

	Filestream     bool   // FilestreamAvailable result
	FilestreamData []byte // backing buffer for filestream reads and writes

	Debug bool // last SetDebug value
}

type fakeFile struct {
	pos    int
	closed bool
}

// NewFake returns a Fake with filestream support enabled.
func NewFake() *Fake {
	return &Fake{
		lastErr:    make(map[boundary.Handle]string),
		pools:      make(map[boundary.Handle][]byte),
		conns:      make(map[boundary.Handle]boundary.Handle),
		txs:        make(map[boundary.Handle]string),
		cursors:    make(map[boundary.Handle][][]byte),
		files:      make(map[boundary.Handle]*fakeFile),
		Filestream: true,
	}
}

// CallLog returns a copy of every recorded call, in order.
func (f *Fake) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many recorded calls start with prefix.
func (f *Fake) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// ResetLog clears the call log without touching handle state.
func (f *Fake) ResetLog() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// LivePools returns the number of pool handles still open.
func (f *Fake) LivePools() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pools)
}

// LiveConns returns the number of connection handles still open.
func (f *Fake) LiveConns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// LiveCursors returns the number of cursor handles still open.
func (f *Fake) LiveCursors() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cursors)
}

func (f *Fake) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *Fake) handle() boundary.Handle {
	f.nextHandle++
	return boundary.Handle(f.nextHandle)
}

// CreatePool implements boundary.Boundary.
func (f *Fake) CreatePool(ctx context.Context, configJSON []byte) boundary.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pool.create")
	f.LastConfig = configJSON
	if f.FailCreatePool != "" {
		f.lastErr[boundary.Invalid] = f.FailCreatePool
		return boundary.Invalid
	}
	h := f.handle()
	f.pools[h] = configJSON
	return h
}

// AcquireConn implements boundary.Boundary.
func (f *Fake) AcquireConn(ctx context.Context, pool boundary.Handle) boundary.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pool.acquire")
	if f.FailAcquire != "" {
		f.lastErr[pool] = f.FailAcquire
		return boundary.Invalid
	}
	if _, ok := f.pools[pool]; !ok {
		f.lastErr[pool] = fmt.Sprintf("unknown pool handle %d", pool)
		return boundary.Invalid
	}
	h := f.handle()
	f.conns[h] = pool
	return h
}

// ReleaseConn implements boundary.Boundary.
func (f *Fake) ReleaseConn(pool, conn boundary.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pool.release")
	delete(f.conns, conn)
	delete(f.txs, conn)
}

// ClosePool implements boundary.Boundary.
func (f *Fake) ClosePool(pool boundary.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pool.close")
	delete(f.pools, pool)
}

// Connect implements boundary.Boundary.
func (f *Fake) Connect(ctx context.Context, configJSON []byte) boundary.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("connect")
	f.LastConfig = configJSON
	if f.FailConnect != "" {
		f.lastErr[boundary.Invalid] = f.FailConnect
		return boundary.Invalid
	}
	h := f.handle()
	f.conns[h] = boundary.Invalid
	return h
}

// Disconnect implements boundary.Boundary.
func (f *Fake) Disconnect(conn boundary.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("disconnect")
	delete(f.conns, conn)
	delete(f.txs, conn)
}

// Query implements boundary.Boundary.
func (f *Fake) Query(ctx context.Context, conn boundary.Handle, cmdJSON []byte) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("query")
	f.LastCommand = cmdJSON
	if f.FailQuery != "" {
		f.lastErr[conn] = f.FailQuery
		return nil
	}
	if f.QueryResult != nil {
		return f.QueryResult
	}
	return []byte(`[]`)
}

// ExecNonQuery implements boundary.Boundary.
func (f *Fake) ExecNonQuery(ctx context.Context, conn boundary.Handle, cmdJSON []byte) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("exec")
	f.LastCommand = cmdJSON
	if f.FailExec != "" {
		f.lastErr[conn] = f.FailExec
		return nil
	}
	if f.ExecResult != nil {
		return f.ExecResult
	}
	return []byte(`{"rowsAffected": 0}`)
}

// Exec implements boundary.Boundary.
func (f *Fake) Exec(ctx context.Context, conn boundary.Handle, cmdJSON []byte) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("call")
	f.LastCommand = cmdJSON
	if f.FailCall != "" {
		f.lastErr[conn] = f.FailCall
		return nil
	}
	if f.CallResult != nil {
		return f.CallResult
	}
	return []byte(`{"rowsAffected": 0, "resultSets": [], "outputParams": {}}`)
}

// OpenStream implements boundary.Boundary.
func (f *Fake) OpenStream(ctx context.Context, conn boundary.Handle, cmdJSON []byte) boundary.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stream.open")
	f.LastCommand = cmdJSON
	if f.FailOpenStream != "" {
		f.lastErr[conn] = f.FailOpenStream
		return boundary.Invalid
	}
	h := f.handle()
	rows := make([][]byte, len(f.StreamRows))
	copy(rows, f.StreamRows)
	f.cursors[h] = rows
	return h
}

// StreamNext implements boundary.Boundary.
func (f *Fake) StreamNext(ctx context.Context, cursor boundary.Handle) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stream.next")
	rows, ok := f.cursors[cursor]
	if !ok || len(rows) == 0 {
		return nil
	}
	row := rows[0]
	f.cursors[cursor] = rows[1:]
	return row
}

// CloseStream implements boundary.Boundary.
func (f *Fake) CloseStream(cursor boundary.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stream.close")
	delete(f.cursors, cursor)
}

// BulkLoad implements boundary.Boundary.
func (f *Fake) BulkLoad(ctx context.Context, conn boundary.Handle, reqJSON []byte) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("bulk")
	f.LastBulk = reqJSON
	if f.FailBulk != "" {
		f.lastErr[conn] = f.FailBulk
		return nil
	}
	if f.BulkResult != nil {
		return f.BulkResult
	}
	return []byte(`{"rowsAffected": 0}`)
}

// BeginTx implements boundary.Boundary.
func (f *Fake) BeginTx(ctx context.Context, conn boundary.Handle, reqJSON []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("tx.begin")
	f.LastBeginReq = reqJSON
	if f.FailBegin != "" {
		return f.FailBegin
	}
	var req struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(reqJSON, &req)
	f.txs[conn] = req.ID
	f.LastTxID = req.ID
	return ""
}

// CommitTx implements boundary.Boundary.
func (f *Fake) CommitTx(ctx context.Context, conn boundary.Handle, txID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("tx.commit")
	f.LastTxID = txID
	if f.FailCommit != "" {
		return f.FailCommit
	}
	delete(f.txs, conn)
	return ""
}

// RollbackTx implements boundary.Boundary.
func (f *Fake) RollbackTx(ctx context.Context, conn boundary.Handle, txID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("tx.rollback")
	f.LastTxID = txID
	if f.FailRollback != "" {
		return f.FailRollback
	}
	delete(f.txs, conn)
	return ""
}

// Cancel implements boundary.Boundary.
func (f *Fake) Cancel(conn boundary.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("cancel")
}

// LastError implements boundary.Boundary. Retrieves and clears.
func (f *Fake) LastError(h boundary.Handle) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := f.lastErr[h]
	delete(f.lastErr, h)
	return msg
}

// DiagnosticInfo implements boundary.Boundary. Pool counts are derived from
// the live handle tables; idle is reported as zero since the fake does not
// keep a checked-in set.
func (f *Fake) DiagnosticInfo() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	type poolInfo struct {
		ID    uint64 `json:"id"`
		Total int    `json:"total"`
		Idle  int    `json:"idle"`
		InUse int    `json:"in_use"`
		Max   int    `json:"max"`
	}
	type connInfo struct {
		ID       uint64 `json:"id"`
		PoolID   uint64 `json:"pool_id"`
		IsPooled bool   `json:"is_pooled"`
		ActiveTx bool   `json:"has_active_transaction"`
	}
	var snap struct {
		Pools       []poolInfo `json:"pools"`
		Connections []connInfo `json:"connections"`
	}
	snap.Pools = []poolInfo{}
	snap.Connections = []connInfo{}

	inUse := make(map[boundary.Handle]int)
	for conn, pool := range f.conns {
		if pool != boundary.Invalid {
			inUse[pool]++
		}
		_, activeTx := f.txs[conn]
		snap.Connections = append(snap.Connections, connInfo{
			ID:       uint64(conn),
			PoolID:   uint64(pool),
			IsPooled: pool != boundary.Invalid,
			ActiveTx: activeTx,
		})
	}
	for h := range f.pools {
		snap.Pools = append(snap.Pools, poolInfo{
			ID:    uint64(h),
			Total: inUse[h],
			InUse: inUse[h],
			Max:   100,
		})
	}

	out, _ := json.Marshal(snap)
	return out
}

// SetDebug implements boundary.Boundary.
func (f *Fake) SetDebug(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Debug = enabled
}

// CloseAll implements boundary.Boundary.
func (f *Fake) CloseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("close_all")
	f.pools = make(map[boundary.Handle][]byte)
	f.conns = make(map[boundary.Handle]boundary.Handle)
	f.txs = make(map[boundary.Handle]string)
	f.cursors = make(map[boundary.Handle][][]byte)
	f.files = make(map[boundary.Handle]*fakeFile)
}

// FilestreamAvailable implements boundary.Boundary.
func (f *Fake) FilestreamAvailable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Filestream
}

// FilestreamOpen implements boundary.Boundary.
func (f *Fake) FilestreamOpen(reqJSON []byte) boundary.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("fs.open")
	if !f.Filestream {
		f.lastErr[boundary.Invalid] = "filestream unavailable"
		return boundary.Invalid
	}
	h := f.handle()
	f.files[h] = &fakeFile{}
	return h
}

// FilestreamRead implements boundary.Boundary.
func (f *Fake) FilestreamRead(fs boundary.Handle, maxBytes int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("fs.read")
	file, ok := f.files[fs]
	if !ok || file.closed {
		return nil
	}
	rest := f.FilestreamData[file.pos:]
	if maxBytes > 0 && maxBytes < len(rest) {
		rest = rest[:maxBytes]
	}
	file.pos += len(rest)
	out, _ := json.Marshal(map[string]any{
		"data":   base64.StdEncoding.EncodeToString(rest),
		"length": len(rest),
	})
	return out
}

// FilestreamWrite implements boundary.Boundary.
func (f *Fake) FilestreamWrite(fs boundary.Handle, data []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("fs.write")
	file, ok := f.files[fs]
	if !ok || file.closed {
		return 0
	}
	f.FilestreamData = append(f.FilestreamData, data...)
	return len(data)
}

// FilestreamClose implements boundary.Boundary.
func (f *Fake) FilestreamClose(fs boundary.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("fs.close")
	delete(f.files, fs)
}
