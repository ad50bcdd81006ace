// Package safe runs goroutines that must not take the process down with
// them: a panicking connection pump or relay callback is logged and the
// goroutine exits cleanly.
package safe

import (
	"runtime/debug"

	"chatwire/logger"
)

// Go starts f on a new goroutine and converts a panic into an error log
// with the stack attached.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe] goroutine panic: %v\n%s", r, debug.Stack())
			}
		}()
		f()
	}()
}

// Recover is the deferred form for goroutines not started through Go.
func Recover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("[safe] %s panic: %v\n%s", tag, r, debug.Stack())
	}
}
