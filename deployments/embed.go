// Package deployments embeds deployment assets into the binary.
//
// Unlike the teacher's multi-service deployment (API server + node
// manager + setup wizard, each with its own migrations and a generated
// docker-compose), this module ships as one orchestrator binary against
// one schema version, so only the full init script is kept.
package deployments

import _ "embed"

// InitDBSQL is the PostgreSQL full initialization script, used for a
// fresh install.
//
//go:embed init-db.sql
var InitDBSQL string
