package dbutil

import (
	"database/sql"
	_ "embed"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLite is the Dialect for the embeddable single-file deployment used
// by dev/test environments, mirroring the teacher's
// internal/shared/storage/driver/sqlite/driver.go: PRAGMA tuning at Open
// time plus an AutoMigrate that executes an embedded schema string,
// since SQLite has no external migration tooling in this corpus.
type SQLite struct{}

func (SQLite) DriverType() DriverType { return DriverSQLite }
func (SQLite) Rebind(query string) string {
	return RebindToQuestion(StripPgCasts(query))
}
func (SQLite) CurrentTimestamp() string { return "datetime('now')" }
func (SQLite) BooleanLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
func (SQLite) UpsertConflict(conflictColumn string, updateExprs []string) string {
	return "ON CONFLICT(" + conflictColumn + ") DO UPDATE SET " + joinExprs(updateExprs)
}
func (SQLite) SupportsNullsLast() bool { return false }
func (SQLite) NullsLastClause() string { return "" }
func (SQLite) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(sqliteSchema)
	return err
}

// OpenSQLite applies the PRAGMA tuning the teacher's driver sets at
// connection time: WAL journaling, NORMAL synchronous durability, and
// foreign key enforcement on.
func OpenSQLite(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}
