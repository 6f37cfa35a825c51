package pub

import "time"

// Executor provides the background scheduling context for hold-time timers,
// transport calls, and completion delivery. Completion handles never
// resolve synchronously inside a caller's Publish call; everything flows
// through an Executor.
type Executor interface {
	// Go runs fn on the executor's own context.
	Go(fn func())

	// AfterFunc schedules fn to run on the executor's context after d.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is an outstanding AfterFunc registration. Stop reports whether the
// timer was cancelled before firing; a late firing against state that has
// moved on must be tolerated by the callback itself.
type Timer interface {
	Stop() bool
}

// GoExecutor is the default Executor backed by goroutines and the runtime
// timer wheel.
type GoExecutor struct{}

func (GoExecutor) Go(fn func()) {
	go fn()
}

func (GoExecutor) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
