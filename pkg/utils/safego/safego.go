// Package safego starts goroutines that cannot take the process down with a panic.
package safego

import (
	"context"
	"runtime/debug"

	"github.com/kiosk404/cohort/pkg/logger"
)

// Go runs fn in a new goroutine and recovers any panic it raises.
func Go(ctx context.Context, fn func()) {
	go func() {
		defer Recover(ctx)
		fn()
	}()
}

// Recover logs a recovered panic with its stack. It must be deferred directly.
func Recover(ctx context.Context) {
	if r := recover(); r != nil {
		logger.Error("[safego] goroutine panic: %v\n%s", r, debug.Stack())
	}
}
