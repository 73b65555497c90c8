// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package textop implements plain-text insert and delete operations
// and their pairwise transform.
//
// [Transform] and [TransformSeq] satisfy the diamond property: for
// operations a and b on the same document, applying a then b' yields
// the same text as applying b then a'. The second argument wins ties,
// so callers pass the already-serialized operation second.
package textop
