// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that wait on time (the user-list synchronization timeout,
// transport handshakes) hold a [Clock] instead of calling the time
// package directly. Production wiring passes [Real]; tests pass a
// [FakeClock] from [Fake] and drive it with [FakeClock.WaitForTimers]
// and [FakeClock.Advance]:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go func() { result <- synchronizer.Synchronize(ctx, delta, remotes) }()
//	fake.WaitForTimers(1)
//	fake.Advance(5 * time.Second)
//
// This package has no dependencies beyond the standard library.
package clock
