// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package listeners provides [List], the concurrent listener set used
// for session listeners, activity producers, and activity consumers.
package listeners
