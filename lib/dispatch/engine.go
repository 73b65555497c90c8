// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"github.com/bureau-foundation/tandem/lib/activity"
	"github.com/bureau-foundation/tandem/lib/ref"
)

// QueueItem is an activity paired with the participants that should
// receive it.
type QueueItem struct {
	Activity   activity.Activity
	Recipients []ref.UserID
}

// TransformationResult is the host's routing decision for a batch of
// incoming activities: Items go out over the transport and Local is
// executed on the host without a round trip.
type TransformationResult struct {
	Items []QueueItem
	Local []activity.Activity
}

// Engine transforms concurrent edits so that all participants
// converge. The pipeline calls the client-side methods on its serial
// executor only. TransformServerIncoming runs on the host's routing
// path, which the session serializes.
type Engine interface {
	// TransformOutgoing rebases a locally produced activity before it
	// is sent to the host. A nil result means the engine has buffered
	// the activity and will send it itself later.
	TransformOutgoing(a activity.Activity) (activity.Activity, error)

	// TransformIncoming rebases an activity received from the host
	// against local state. It may return zero or several activities
	// to execute.
	TransformIncoming(a activity.Activity) ([]activity.Activity, error)

	// TransformServerIncoming serializes an OT-bearing activity into
	// the host's history and returns what must be delivered to whom.
	TransformServerIncoming(a activity.Activity) ([]QueueItem, []activity.Activity, error)
}

// ParticipantTracker is implemented by engines that keep per-client
// server state.
type ParticipantTracker interface {
	AddParticipant(id ref.UserID)
	RemoveParticipant(id ref.UserID)
}

// Snapshotter is implemented by engines that can bring a participant
// up to date with the current content of every document in a group.
type Snapshotter interface {
	Snapshots(group ref.GroupID, recipient ref.UserID) []QueueItem
}
