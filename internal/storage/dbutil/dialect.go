// Package dbutil provides the database dialect abstraction and SQL
// text helpers the sqlstore repository uses to serve Postgres and
// SQLite from one set of query strings.
//
// Adapted directly from the teacher's
// internal/shared/storage/dbutil/dialect.go: same Dialect interface,
// same placeholder-rebinding and cast-stripping helpers, with the
// teacher's MySQL driver type dropped (the teacher's own mysql driver is
// an explicit stub, and this module has no MySQL-backed deployment
// target).
package dbutil

import (
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DriverType identifies a supported SQL backend.
type DriverType string

const (
	DriverPostgres DriverType = "postgres"
	DriverSQLite   DriverType = "sqlite"
)

// Dialect hides SQL syntax differences between backends so the
// repository layer can write one database-agnostic query per operation.
type Dialect interface {
	DriverType() DriverType
	Rebind(query string) string
	CurrentTimestamp() string
	BooleanLiteral(b bool) string
	UpsertConflict(conflictColumn string, updateExprs []string) string
	SupportsNullsLast() bool
	NullsLastClause() string
	AutoMigrate(db *sql.DB) error
}

var pgPlaceholderRe = regexp.MustCompile(`\$(\d+)`)
var pgCastRe = regexp.MustCompile(`::(\w+)`)

// RebindToPositional keeps $N placeholders unchanged (Postgres).
func RebindToPositional(query string) string { return query }

// RebindToQuestion converts $N placeholders to ? (SQLite).
func RebindToQuestion(query string) string {
	return pgPlaceholderRe.ReplaceAllString(query, "?")
}

// StripPgCasts removes ::type casts for dialects that don't support them.
func StripPgCasts(query string) string {
	return pgCastRe.ReplaceAllString(query, "")
}

// ReplaceNow swaps NOW() for a dialect's current-timestamp expression.
func ReplaceNow(query, replacement string) string {
	re := regexp.MustCompile(`(?i)\bNOW\(\)`)
	return re.ReplaceAllString(query, replacement)
}

func Itoa(n int) string { return strconv.Itoa(n) }

// PlaceholderList builds "$start, $start+1, ..." rebound per dialect.
func PlaceholderList(d Dialect, start, count int) string {
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return d.Rebind(strings.Join(parts, ", "))
}
