// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch moves activities between the local editor, the
// transport and the OT engine.
//
// Outgoing activities are transformed on the [Serial] executor and sent
// to the host. The host routes everything it receives through
// [Pipeline.DirectServerActivities], which decides recipients and
// narrows them to participants that have the resource's group.
// Incoming activities pass the queuing gate, are merged and optimized,
// then transformed and executed on the serial executor.
package dispatch
