// Package dispatch runs hooks, commands and timer callbacks one at a time.
//
// Everything that touches the ledger or the display sessions goes through a
// Dispatcher, so callbacks never interleave. Loop is the production
// implementation backed by a clock; Sim is a simulated clock for tests.
package dispatch

import (
	"time"
)

// Handle identifies a scheduled callback. The zero Handle is never issued
// and is safe to Cancel.
type Handle uint64

// Dispatcher schedules callbacks on the single logical thread.
type Dispatcher interface {
	// ScheduleOnce runs fn once after delay.
	ScheduleOnce(delay time.Duration, fn func()) Handle
	// ScheduleRepeating runs fn every interval until cancelled. A
	// non-positive interval schedules nothing and returns the zero Handle.
	ScheduleRepeating(interval time.Duration, fn func()) Handle
	// Cancel stops a pending callback. Cancelling an unknown, fired or zero
	// handle is a no-op.
	Cancel(h Handle)
}
