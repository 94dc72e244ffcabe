// Package observer implements the optional (log, progress) collaborator
// pair from spec §6. The core never depends on process-wide logging or
// progress singletons (per the spec's Design Notes on "Process-wide
// state"); instead every vdir operation accepts an *Observer explicitly,
// mirroring the teacher's Ctx.Log *log.Logger injection pattern
// (internal/batch.Ctx, internal/install.Ctx) rather than a package global.
package observer

import (
	"io"
	"log"
	"os"

	"github.com/mattn/go-isatty"
)

// Observer bundles a logger and an optional progress callback. The zero
// value logs nothing and reports no progress — absence of an observer is
// indistinguishable from a no-op, per spec §6.
type Observer struct {
	Log      *log.Logger
	Progress func(position, total int64)
}

// New returns an Observer writing to w. When w is an *os.File connected to a
// terminal (detected via isatty, since the standard library has no
// portable way to ask this), log lines are prefixed with a timestamp;
// otherwise (redirected to a file or pipe) the prefix is omitted so logs are
// easy to grep without a repeating clock column.
func New(w io.Writer) *Observer {
	flags := 0
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		flags = log.Ltime
	}
	return &Observer{Log: log.New(w, "", flags)}
}

// Logf logs a formatted message if o (or o.Log) is non-nil. It is safe to
// call on a nil *Observer.
func (o *Observer) Logf(format string, args ...interface{}) {
	if o == nil || o.Log == nil {
		return
	}
	o.Log.Printf(format, args...)
}

// Report invokes the progress callback if one is set. It is safe to call on
// a nil *Observer.
func (o *Observer) Report(position, total int64) {
	if o == nil || o.Progress == nil {
		return
	}
	o.Progress(position, total)
}

// Discard is an Observer that logs nothing.
var Discard = &Observer{Log: log.New(io.Discard, "", 0)}
