// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and
// logged with the task name rather than crashing the process. Use it for every
// fire-and-forget goroutine (stats collectors, change notifications).
func Go(name string, fn func()) {
	go func() {
		defer Recover(name, nil)
		fn()
	}()
}

// Recover is deferred by goroutines that must not take the process down. When
// errp is non-nil the panic is also converted into an error stored there.
func Recover(name string, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	slog.Error("recovered panic in background goroutine",
		"task", name, "panic", r, "stack", string(debug.Stack()))
	if errp != nil {
		*errp = fmt.Errorf("panic in %s: %v", name, r)
	}
}
