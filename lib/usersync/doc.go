// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package usersync keeps every participant's membership view in step
// with the host's.
//
// Each membership change on the host becomes one round: a
// [activity.UserListDelta] with a fresh ULID round id goes to every
// remote participant, and the host waits a bounded time for the
// matching [activity.UserListAck]s. The caller decides what a missing
// acknowledgment means. A join rolls back; a leave proceeds.
package usersync
