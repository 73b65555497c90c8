// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source injected into every component that waits.
// Production code uses Real; tests use Fake and advance time by hand.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. If
	// d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a stoppable one-shot timer. Callers that may
	// abandon a wait before it fires should prefer NewTimer over
	// After so the pending waiter is released.
	NewTimer(d time.Duration) *Timer
}

// Timer is a one-shot timer. Receive from C to wait for it.
type Timer struct {
	C <-chan time.Time

	stop func() bool
}

// Stop prevents the timer from firing. It reports whether the call
// stopped an active timer.
func (t *Timer) Stop() bool { return t.stop() }
