// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package refpoint maps local resource-group handles to session-wide
// group identifiers.
//
// A group is shared exactly once. Re-sharing a handle under another id,
// binding an id to a second handle, or sharing handles that contain one
// another are rejected with [ErrRemapped] or [ErrNested].
//
// On the host the [Mapper] also records, per participant, which groups
// the participant can process. The set only grows while the
// participant is present ([Mapper.MarkHasAllGroups],
// [Mapper.MarkHasGroup]) and is discarded on [Mapper.RemoveUser]. The
// dispatch pipeline uses [Mapper.UsersWithGroup] to narrow recipients
// of resource-scoped activities.
package refpoint
