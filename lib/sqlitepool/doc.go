// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool wraps zombiezen.com/go/sqlite with the pragmas
// and schema bootstrap every local store in the module shares.
//
// Each connection is opened in WAL mode with NORMAL synchronous and a
// five second busy timeout, then runs the caller's idempotent schema.
// [Pool.With] borrows a connection and wraps the callback in a
// savepoint:
//
//	err := pool.With(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "INSERT ...", &sqlitex.ExecOptions{Args: args})
//	})
package sqlitepool
