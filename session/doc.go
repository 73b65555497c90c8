// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session coordinates one co-editing session from the point of
// view of a single participant.
//
// A [Session] owns the membership registry, the resource-group mapper,
// the queuing gate, the dispatch pipeline with its OT engine, the color
// engine and the membership synchronizer, and wires them to a
// [transport.Transport]. Exactly one participant in a session is the
// host: it routes every activity, assigns colors, and admits or removes
// participants. Every other participant talks only to the host.
//
// Activities enter a session in two ways. Local producers call
// [Session.Emit]; the transport delivers remote activities to
// [Session.Receive]. Whatever survives the pipeline is handed to the
// registered [Consumer]s in order, on the session's serial executor.
//
// Joins on the host block until every participant has acknowledged the
// new membership or the synchronization timeout expires, in which case
// the join is rolled back and [*JoinTimeoutError] names the silent
// participants. AddParticipant and RemoveParticipant must therefore
// not be called from a transport's delivery goroutine.
//
// A participant that joins a host should not emit edits for a group
// before the host has marked it with [Session.MarkHasAllGroups] or
// [Session.MarkHasGroup]: that is the point at which it receives the
// current documents.
package session
