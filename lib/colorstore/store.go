// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package colorstore

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/tandem/lib/color"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS color_assignments (
	set_key     TEXT    NOT NULL,
	participant TEXT    NOT NULL,
	color       INTEGER NOT NULL,
	preferred   INTEGER NOT NULL,
	PRIMARY KEY (set_key, participant)
);
`

// Store persists color assignments in SQLite.
type Store struct {
	pool *sqlitepool.Pool
}

var _ color.Store = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Schema: schema,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening color store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.pool.Close() }

// Load implements color.Store.
func (s *Store) Load(ctx context.Context, key string) (color.Assignment, bool, error) {
	assignment := color.Assignment{
		Colors:      make(map[ref.UserID]int),
		Preferences: make(map[ref.UserID]int),
	}
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT participant, color, preferred FROM color_assignments WHERE set_key = ?`,
			&sqlitex.ExecOptions{
				Args: []any{key},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					id := ref.UserID(stmt.ColumnText(0))
					assignment.Colors[id] = stmt.ColumnInt(1)
					assignment.Preferences[id] = stmt.ColumnInt(2)
					return nil
				},
			})
	})
	if err != nil {
		return color.Assignment{}, false, fmt.Errorf("loading colors for %s: %w", key, err)
	}
	if len(assignment.Colors) == 0 {
		return color.Assignment{}, false, nil
	}
	return assignment, true, nil
}

// Save implements color.Store. The previous rows for key are replaced
// atomically.
func (s *Store) Save(ctx context.Context, key string, assignment color.Assignment) error {
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn,
			`DELETE FROM color_assignments WHERE set_key = ?`,
			&sqlitex.ExecOptions{Args: []any{key}}); err != nil {
			return err
		}
		for id, assigned := range assignment.Colors {
			preferred, ok := assignment.Preferences[id]
			if !ok {
				preferred = -1
			}
			if err := sqlitex.Execute(conn,
				`INSERT INTO color_assignments (set_key, participant, color, preferred) VALUES (?, ?, ?, ?)`,
				&sqlitex.ExecOptions{Args: []any{key, string(id), assigned, preferred}}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving colors for %s: %w", key, err)
	}
	return nil
}

// Row is one persisted participant color.
type Row struct {
	SetKey      string
	Participant ref.UserID
	Color       int
	Preferred   int
}

// List returns every stored row ordered by set and participant.
func (s *Store) List(ctx context.Context) ([]Row, error) {
	var rows []Row
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT set_key, participant, color, preferred FROM color_assignments ORDER BY set_key, participant`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					rows = append(rows, Row{
						SetKey:      stmt.ColumnText(0),
						Participant: ref.UserID(stmt.ColumnText(1)),
						Color:       stmt.ColumnInt(2),
						Preferred:   stmt.ColumnInt(3),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("listing colors: %w", err)
	}
	return rows, nil
}
