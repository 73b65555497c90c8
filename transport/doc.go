// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries activities between participants.
//
// [Transport] is the interface the session uses: Send delivers one
// activity to a set of participants, ordered per recipient, and reports
// per-recipient failures in a [SendError] without failing the others.
// Incoming activities reach a [Handler] on a transport goroutine.
//
// Two implementations are provided. [Hub] is an in-process network for
// tests and simulations; every activity still goes through the activity
// codec, and links can be cut with [Hub.Disconnect]. [Stream] runs over
// byte-stream connections using [wire] frames, with compression above a
// size threshold. [Listen] and [Dial] set up TCP links with a
// hello/welcome handshake that exchanges participant identities. The
// host admits each joiner on its own goroutine, after the link is
// attached, so that membership synchronization can receive the
// joiner's acknowledgment.
//
// Sends addressed to the local participant are delivered back through
// the handler asynchronously, which lets the host route its own
// activities through the same path as everyone else's.
package transport
