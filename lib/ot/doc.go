// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ot implements the client and host halves of the text edit
// protocol on top of [textop] transforms.
//
// Each participant runs a client half per document: one edit in flight
// to the host, later local operations buffered until the host
// acknowledges it. The host additionally runs the server half, which
// numbers edits into a linear history and rebases an edit over every
// revision its author had not seen when it was produced. Host
// operations win ties on both sides, so clients and host agree.
//
// Documents are expected to start empty unless the host seeds them
// with [Engine.Seed]. A participant that joins late receives an
// [activity.Snapshot] from [Engine.Snapshots] before any edit to the
// document.
package ot
