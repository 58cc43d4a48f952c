// Package logx provides the package-level structured logger shared by
// the newton and priority packages, in place of the teacher's
// package-level io.Pf/io.Pforan print helpers.
package logx

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the shared solver logger. It defaults to Info level, writing
// structured (non-console) JSON, since this is a library: callers that
// want human-readable output reconfigure it with zerolog.ConsoleWriter in
// their own main package, the same way gosl's io package leaves format
// selection to the caller.
var Logger = zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger()

// SetLevel adjusts the shared logger's minimum level, e.g. zerolog.Disabled
// for hot-loop benchmarking where even a disabled Debug() call's argument
// evaluation should be skipped.
func SetLevel(level zerolog.Level) {
	Logger = Logger.Level(level)
}
