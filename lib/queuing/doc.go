// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package queuing implements the per-group gate that holds incoming
// activities until their resource group can execute them.
//
// The gate is reference counted so that overlapping reasons for
// queuing (a transfer and a re-synchronization, say) release the group
// only when all of them are done. See [Gate].
package queuing
