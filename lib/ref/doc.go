// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref defines the identifiers that cross the wire: participant
// identities ([UserID]), shared resource group identifiers ([GroupID]),
// and resource paths ([Resource]).
//
// Identifiers are validated on parse and on decode. Every other package
// can assume a UserID or GroupID it holds is non-empty and free of
// whitespace.
package ref
