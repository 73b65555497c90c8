// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package colorstore persists color assignments in a local SQLite
// database so that a recurring group of participants gets the same
// colors in every session.
//
// One row is stored per (participant set, participant). [Store] satisfies
// color.Store; [Store.List] backs the "tandem colors" command.
package colorstore
