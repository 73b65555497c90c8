// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireNoReceive], [RequireClosed], and
// [Eventually] wrap the select-with-timeout pattern so tests do not
// call time.After directly. These are the only real wall-clock waits in
// the test suite; everything that the code under test waits on goes
// through a fake clock.
//
// [UniqueID] generates distinct identifiers for subtests.
//
// All helpers call t.Fatalf on failure.
package testutil
