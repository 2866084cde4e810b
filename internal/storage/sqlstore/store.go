// Package sqlstore implements storage.Store over database/sql, serving
// Postgres and SQLite from one set of query strings rebound per
// dbutil.Dialect.
//
// Grounded on internal/shared/storage/repository/store.go's generic
// Store{db, dialect} wrapper and internal/shared/storage/driver/
// {postgres,sqlite}/driver.go's Open()/pool-tuning shape.
package sqlstore

import (
	"database/sql"
	"fmt"
	"time"

	"docseval/internal/storage/dbutil"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Store wraps a *sql.DB with the dialect needed to rebind query text.
type Store struct {
	db      *sql.DB
	dialect dbutil.Dialect
}

// OpenPostgres opens a pgx-backed connection pool with the teacher's
// pool tuning (25 max open, 5 max idle, 5 minute max lifetime).
func OpenPostgres(databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db, dialect: dbutil.Postgres{}}, nil
}

// OpenSQLite opens a modernc.org/sqlite-backed file store, applies the
// teacher's PRAGMA tuning, and auto-migrates the embedded schema.
func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := dbutil.OpenSQLite(db); err != nil {
		return nil, fmt.Errorf("pragma sqlite: %w", err)
	}
	dialect := dbutil.SQLite{}
	if err := dialect.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("automigrate sqlite: %w", err)
	}
	return &Store{db: db, dialect: dialect}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) rebind(query string) string { return s.dialect.Rebind(query) }

func (s *Store) now() time.Time { return time.Now().UTC() }
