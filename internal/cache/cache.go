// Package cache holds the hot run-status/cost snapshot the Budget
// Accountant writes after every applied usage. The Accountant never
// reads it back: its budget checks read the Store, which remains the
// source of truth (spec.md §9), so a missing or stale snapshot never
// affects budget accounting.
//
// Grounded on internal/shared/cache/{interface,types}.go and
// internal/shared/cache/redis/workflow_state.go's HSet/HGetAll pipeline
// shape, narrowed to the one snapshot type this module needs.
package cache

import (
	"context"
	"time"
)

// RunSnapshot is the hot-path view of a run's live counters.
type RunSnapshot struct {
	Status      string  `json:"status" redis:"status"`
	StepsUsed   int     `json:"stepsUsed" redis:"steps_used"`
	TokensUsed  int     `json:"tokensUsed" redis:"tokens_used"`
	CostUsed    float64 `json:"costUsed" redis:"cost_used"`
	UpdatedAt   time.Time `json:"updatedAt" redis:"updated_at"`
}

const (
	KeyRunSnapshot = "run_snapshot:"
	TTLRunSnapshot = 10 * time.Minute
)

// RunCache is the cache layer's collaborator boundary.
type RunCache interface {
	SetRunSnapshot(ctx context.Context, runID string, snapshot *RunSnapshot) error
	GetRunSnapshot(ctx context.Context, runID string) (*RunSnapshot, error)
	DeleteRunSnapshot(ctx context.Context, runID string) error
	Close() error
}
