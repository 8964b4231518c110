// Package storage implements the dynamic storage engine: bun-backed CRUD
// for the fixed entities (projects, fields, tasks, batches, AI configs) and
// raw-SQL DDL/DML for the per-project records table, whose column set is
// driven entirely by project data and so cannot be expressed with bun's
// static model mapping.
package storage

import (
	"context"
	"database/sql"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

// Store wraps a bun.DB over a pure-Go SQLite driver.
type Store struct {
	db *bun.DB

	// columnCacheMu guards columnCache, a per-table cache of known physical
	// column names. Inserts/updates filter incoming keys through it so that
	// a stale field reference is silently dropped rather than raising a SQL
	// error; any DDL that changes a table's shape invalidates its entry.
	columnCacheMu sync.RWMutex
	columnCache   map[string]map[string]bool
}

// Open connects to dsn (a SQLite DSN, e.g. "file:colmap.db?cache=shared")
// and wraps it in bun.
func Open(dsn string) (*Store, error) {
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())
	return &Store{db: db, columnCache: make(map[string]map[string]bool)}, nil
}

// DB exposes the underlying bun.DB for components that need raw SQL access
// against the same connection (the dynamic records tables).
func (s *Store) DB() *bun.DB { return s.db }

// InitSchema creates the fixed-entity tables if they do not already exist.
func (s *Store) InitSchema(ctx context.Context) error {
	models := []interface{}{
		(*ProjectModel)(nil),
		(*FieldModel)(nil),
		(*TaskModel)(nil),
		(*BatchModel)(nil),
		(*AIConfigModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.DB.Close()
}
