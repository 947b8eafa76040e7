package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than limit goroutines are running.
// Every shopper workspace holds timers and subscriptions, so a leak shows up
// here first.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines running, limit is %d", n, limit)
		}
		return nil
	}
}

// Counter reports a current value, such as the number of workspaces in
// memory.
type Counter func() int

// CountCheck fails when c exceeds limit.
func CountCheck(name string, c Counter, limit int) CheckFunc {
	return func(context.Context) error {
		if n := c(); n > limit {
			return errors.Errorf("%d %s, limit is %d", n, name, limit)
		}
		return nil
	}
}
