// Copyright 2025 Microfactory Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sessionstore implements ports.SessionRepository over
// database/sql, selectable between sqlite (default), postgres and mysql
// dialects, mirroring the teacher's SQLSessionService layering in
// v2/session/store.go.
package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tschacht/microfactory/internal/ports"
)

// Dialect names the supported SQL backends.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// ErrNotFound is returned by Load when no snapshot exists for the given ID.
var ErrNotFound = errors.New("sessionstore: session not found")

const sessionsSchemaSQLite = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	domain TEXT NOT NULL,
	payload BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions (updated_at DESC);
`

const sessionsSchemaPostgres = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	domain TEXT NOT NULL,
	payload BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions (updated_at DESC);
`

const sessionsSchemaMySQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id VARCHAR(191) PRIMARY KEY,
	status VARCHAR(64) NOT NULL,
	provider VARCHAR(64) NOT NULL,
	model VARCHAR(128) NOT NULL,
	domain VARCHAR(128) NOT NULL,
	payload LONGBLOB NOT NULL,
	updated_at DATETIME NOT NULL,
	INDEX idx_sessions_updated_at (updated_at DESC)
);
`

// Store is a database/sql-backed ports.SessionRepository.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open opens (creating if necessary) a session store at dsn using driver
// dialect, and ensures the schema exists.
func Open(dialect Dialect, dsn string) (*Store, error) {
	driverName, err := driverNameFor(dialect)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open %s: %w", dialect, err)
	}
	s := &Store{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func driverNameFor(dialect Dialect) (string, error) {
	switch dialect {
	case DialectSQLite:
		return "sqlite3", nil
	case DialectPostgres:
		return "postgres", nil
	case DialectMySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("sessionstore: unknown dialect %q", dialect)
	}
}

func (s *Store) initSchema() error {
	var ddl string
	switch s.dialect {
	case DialectSQLite:
		ddl = sessionsSchemaSQLite
	case DialectPostgres:
		ddl = sessionsSchemaPostgres
	case DialectMySQL:
		ddl = sessionsSchemaMySQL
	}
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("sessionstore: init schema: %w", err)
	}
	return nil
}

// Close releases the underlying *sql.DB.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) placeholder(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Save upserts a session snapshot (last-writer-wins).
func (s *Store) Save(ctx context.Context, snap ports.SessionSnapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}
	var query string
	switch s.dialect {
	case DialectSQLite:
		query = `INSERT INTO sessions (id, status, provider, model, domain, payload, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET status=excluded.status, provider=excluded.provider,
				model=excluded.model, domain=excluded.domain, payload=excluded.payload, updated_at=excluded.updated_at`
	case DialectPostgres:
		query = `INSERT INTO sessions (id, status, provider, model, domain, payload, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, provider=EXCLUDED.provider,
				model=EXCLUDED.model, domain=EXCLUDED.domain, payload=EXCLUDED.payload, updated_at=EXCLUDED.updated_at`
	case DialectMySQL:
		query = `INSERT INTO sessions (id, status, provider, model, domain, payload, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE status=VALUES(status), provider=VALUES(provider),
				model=VALUES(model), domain=VALUES(domain), payload=VALUES(payload), updated_at=VALUES(updated_at)`
	}
	_, err := s.db.ExecContext(ctx, query, snap.ID, snap.Status, snap.Provider, snap.Model, snap.Domain, snap.Payload, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sessionstore: save %s: %w", snap.ID, err)
	}
	return nil
}

// Load fetches a session snapshot by ID.
func (s *Store) Load(ctx context.Context, id string) (*ports.SessionSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, status, provider, model, domain, payload, updated_at FROM sessions WHERE id = %s", s.placeholder(1)),
		id)

	var snap ports.SessionSnapshot
	if err := row.Scan(&snap.ID, &snap.Status, &snap.Provider, &snap.Model, &snap.Domain, &snap.Payload, &snap.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessionstore: load %s: %w", id, err)
	}
	return &snap, nil
}

// List returns up to limit sessions ordered by most recently updated.
func (s *Store) List(ctx context.Context, limit int) ([]ports.SessionSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, status, provider, model, domain, payload, updated_at FROM sessions ORDER BY updated_at DESC LIMIT %s", s.placeholder(1)),
		limit)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list: %w", err)
	}
	defer rows.Close()

	var out []ports.SessionSnapshot
	for rows.Next() {
		var snap ports.SessionSnapshot
		if err := rows.Scan(&snap.ID, &snap.Status, &snap.Provider, &snap.Model, &snap.Domain, &snap.Payload, &snap.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sessionstore: list scan: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Delete removes a session snapshot. Deleting an unknown ID is not an
// error, matching the idempotent-delete convention in the teacher's
// checkpoint storage.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM sessions WHERE id = %s", s.placeholder(1)), id)
	if err != nil {
		return fmt.Errorf("sessionstore: delete %s: %w", id, err)
	}
	return nil
}
