// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package color assigns every session participant a distinct identity
// color.
//
// On the host, [Engine.Reassign] runs after each join, leave, or
// preference change. It frees the colors of the working set, then
// picks the first acceptable assignment from: everyone's preferred
// color when those are known and distinct; the assignment last
// persisted for this exact participant set when preferences have not
// drifted; or an automatic assignment that keeps free preferences and
// fills the rest with the lowest free colors. Changes are announced to
// non-host participants through the [Notifier] after the engine lock is
// released.
//
// Other participants mirror the host with [Engine.Adopt] and
// [Engine.Release].
//
// Persisted assignments are keyed by [SetKey], a BLAKE3 keyed hash of
// the sorted participant identities.
package color
