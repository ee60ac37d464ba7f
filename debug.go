package gomssql

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/go-pkgz/lgr"
)

var debugEnabled atomic.Bool

func init() {
	v := os.Getenv("GOMSSQL_DEBUG")
	if v == "1" || strings.EqualFold(v, "true") {
		debugEnabled.Store(true)
	}
}

// SetDebug toggles debug logging at runtime, on both sides: the client's
// own trace lines and the boundary's. Forwarded to every boundary currently
// in use plus the default one when initialized.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
	for _, b := range registry.boundaries() {
		b.SetDebug(enabled)
	}
	if b, err := getDefaultBoundaryIfReady(); err == nil && b != nil {
		b.SetDebug(enabled)
	}
}

// DebugEnabled reports whether debug logging is active.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

func debugf(format string, args ...any) {
	if !debugEnabled.Load() {
		return
	}
	lgr.Printf("[DEBUG] gomssql: "+format, args...)
}
