// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package activity defines the events participants exchange.
//
// [Activity] is a closed union: each variant is a value type in this
// package, and every classification ([ResourceOf], [IsOTBearing],
// [IsEditorState], [IsWrite], [IsControl], [Targets]) is an
// exhaustive type switch, so adding a variant without classifying it
// panics in tests rather than silently misrouting.
//
// [Marshal] and [Unmarshal] move activities across the wire as a CBOR
// envelope of variant name and body. [Optimize] is the pure reduction
// pass the dispatch pipeline runs over each incoming batch.
package activity
