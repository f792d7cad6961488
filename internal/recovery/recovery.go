// Package recovery contains panics raised by reactor callbacks and
// background goroutines so that one faulty handler cannot stop the loop.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// RecoverWithLog recovers from a panic and logs it. Use with defer at the
// top of a goroutine:
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, "health-server")
//	    ...
//	}()
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
	}
}

// RecoverWithCallback recovers from a panic, logs it and then calls
// callback with the recovered value. callback may be nil.
func RecoverWithCallback(logger *slog.Logger, name string, callback func(recovered any)) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
		if callback != nil {
			callback(r)
		}
	}
}

// Call runs fn and reports whether it panicked. The panic is logged and
// swallowed.
func Call(logger *slog.Logger, name string, fn func()) (panicked bool) {
	defer RecoverWithCallback(logger, name, func(any) { panicked = true })
	fn()
	return false
}

func logPanic(logger *slog.Logger, name string, r any) {
	if logger == nil {
		return
	}
	logger.Error("panic recovered",
		"callback", name,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()))
}
