// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package membership holds session participants and the registry that
// maps identities to them.
//
// A [Participant] carries a fixed identity and host role plus mutable
// permission, identity color, preferred color, and in-session state,
// each guarded by the participant's own lock. The [Registry] enforces
// one participant per identity and returns participants in join order
// so that every component iterating membership sees the same order.
package membership
