// Package log declares the logging contract for the optrack SDK.
//
// By default the tracker logs nothing ([Noop]). To see what the tracker and
// its retry loops are doing, hand [lib.Config] any [Logger] implementation,
// for example one backed by the standard library:
//
//	type stdLogger struct{}
//
//	func (stdLogger) Debugf(format string, args ...any)   {}
//	func (stdLogger) Infof(format string, args ...any)    { stdlog.Printf("INFO "+format, args...) }
//	func (stdLogger) Warningf(format string, args ...any) { stdlog.Printf("WARN "+format, args...) }
//	func (stdLogger) Errorf(format string, args ...any)   { stdlog.Printf("ERROR "+format, args...) }
//	func (l stdLogger) WithValues(log.Kv) log.Logger      { return l }
//	func (l stdLogger) WithCtxValues(context.Context) log.Logger { return l }
//	func (l stdLogger) SetValuesOnCtx(ctx context.Context, _ log.Kv) context.Context { return ctx }
package log

import "github.com/salerhq/optrack/internal/log"

// Logger is what the SDK calls to report operation lifecycle, retries and
// archive activity. WithValues returns a derived logger carrying extra
// key-value context; implementations that don't care about structure can
// return themselves unchanged.
type Logger = log.Logger

// Kv carries structured key-value pairs attached to log lines.
type Kv = log.Kv

// Noop discards everything. It is what the tracker uses when [lib.Config]
// leaves Logger unset.
var Noop = log.Noop
