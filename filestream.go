package gomssql

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/tracker1/gomssql/boundary"
)

// FileStreamMode selects the access mode for a FILESTREAM path.
type FileStreamMode string

// FILESTREAM access modes.
const (
	FileStreamRead      FileStreamMode = "read"
	FileStreamWrite     FileStreamMode = "write"
	FileStreamReadWrite FileStreamMode = "readwrite"
)

type fileStreamOpenRequest struct {
	Path            string `json:"path"`
	TxContextBase64 string `json:"tx_context_base64"`
	Mode            string `json:"mode"`
}

// FileStream is direct access to a SQL Server FILESTREAM path. The path and
// transaction context come from the server (PathName() and
// GET_FILESTREAM_TRANSACTION_CONTEXT()); the transaction must stay open for
// the stream's lifetime.
type FileStream struct {
	b      boundary.Boundary
	handle boundary.Handle

	mu     sync.Mutex
	closed bool
}

// FileStreamAvailable reports whether the boundary supports FILESTREAM on
// this platform.
func FileStreamAvailable(b boundary.Boundary) bool {
	return b.FilestreamAvailable()
}

// OpenFileStream opens a FILESTREAM path in the given mode. txContext is the
// raw transaction context returned by the server.
func OpenFileStream(b boundary.Boundary, path string, txContext []byte, mode FileStreamMode) (*FileStream, error) {
	if !b.FilestreamAvailable() {
		return nil, ErrFilestreamUnavailable
	}
	req, err := json.Marshal(fileStreamOpenRequest{
		Path:            path,
		TxContextBase64: base64.StdEncoding.EncodeToString(txContext),
		Mode:            string(mode),
	})
	if err != nil {
		return nil, err
	}
	h := b.FilestreamOpen(req)
	if h == boundary.Invalid {
		msg := b.LastError(boundary.Invalid)
		if msg == "" {
			msg = "filestream open failed"
		}
		return nil, &CommandError{Op: "filestream.open", Msg: msg}
	}
	debugf("filestream %d opened (%s)", h, mode)
	return &FileStream{b: b, handle: h}, nil
}

// Read reads up to maxBytes from the stream's current position.
func (f *FileStream) Read(maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("read size must be positive")
	}
	return f.read(maxBytes)
}

// ReadAll reads the remainder of the stream.
func (f *FileStream) ReadAll() ([]byte, error) {
	return f.read(0)
}

func (f *FileStream) read(maxBytes int) ([]byte, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, ErrFilestreamClosed
	}

	payload := f.b.FilestreamRead(f.handle, maxBytes)
	if payload == nil {
		return nil, ErrFilestreamClosed
	}
	if msg := gjson.GetBytes(payload, "__error"); msg.Exists() {
		return nil, &CommandError{Op: "filestream.read", Msg: msg.String()}
	}
	return decodeBase64(gjson.GetBytes(payload, "data").String())
}

// Write writes data at the stream's current position and returns the number
// of bytes written.
func (f *FileStream) Write(data []byte) (int, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return 0, ErrFilestreamClosed
	}

	n := f.b.FilestreamWrite(f.handle, data)
	if n == 0 && len(data) > 0 {
		return 0, &CommandError{Op: "filestream.write", Msg: "write failed"}
	}
	return n, nil
}

// Close releases the filestream handle. Safe to call repeatedly.
func (f *FileStream) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	f.b.FilestreamClose(f.handle)
	return nil
}
