// Package eventbus implements the best-effort Redis Stream fan-out for
// RunEvent described in spec.md §4.1's expanded form: the SQL/Mongo
// store remains the single source of truth for ordering and durability,
// this bus only shortcuts streamEvents away from re-polling the store on
// every tick. A reader that misses a delivery falls back to
// readAfter(afterId) against the Store, so no event is ever lost, only
// possibly delivered late.
//
// Grounded on internal/shared/eventbus/{interface,types}.go and
// internal/shared/eventbus/redis/workflow_events.go's XAdd/XRead idiom.
package eventbus

import (
	"context"

	"docseval/internal/model"
)

const (
	MaxStreamLength = 10_000
	StreamKeyPrefix = "run:"
	StreamKeySuffix = ":events"
)

// StreamKey returns the capped Redis Stream key for a run's event fan-out.
func StreamKey(runID string) string {
	return StreamKeyPrefix + runID + StreamKeySuffix
}

// Bus is the fan-out collaborator boundary consumed by the orchestrator
// and the HTTP streaming surface.
type Bus interface {
	Publish(ctx context.Context, runID string, event model.RunEvent) error
	Subscribe(ctx context.Context, runID string) (<-chan model.RunEvent, error)
	Close() error
}
