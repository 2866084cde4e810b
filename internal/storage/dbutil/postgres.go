package dbutil

import "database/sql"

// Postgres is the Dialect for a real Postgres deployment. AutoMigrate is
// a no-op: per the teacher's own driver
// (internal/shared/storage/driver/postgres/driver.go), Postgres schemas
// are managed by the external deployments/init-db.sql file, not created
// in code.
type Postgres struct{}

func (Postgres) DriverType() DriverType { return DriverPostgres }
func (Postgres) Rebind(query string) string { return RebindToPositional(query) }
func (Postgres) CurrentTimestamp() string { return "NOW()" }
func (Postgres) BooleanLiteral(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}
func (Postgres) UpsertConflict(conflictColumn string, updateExprs []string) string {
	return "ON CONFLICT (" + conflictColumn + ") DO UPDATE SET " + joinExprs(updateExprs)
}
func (Postgres) SupportsNullsLast() bool { return true }
func (Postgres) NullsLastClause() string { return "NULLS LAST" }
func (Postgres) AutoMigrate(db *sql.DB) error { return nil }

func joinExprs(exprs []string) string {
	out := ""
	for i, e := range exprs {
		if i > 0 {
			out += ", "
		}
		out += e
	}
	return out
}
