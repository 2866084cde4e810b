package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"docseval/internal/cache"
)

func (s *Store) SetRunSnapshot(ctx context.Context, runID string, snapshot *cache.RunSnapshot) error {
	key := cache.KeyRunSnapshot + runID

	data := map[string]interface{}{
		"status":      snapshot.Status,
		"steps_used":  snapshot.StepsUsed,
		"tokens_used": snapshot.TokensUsed,
		"cost_used":   fmt.Sprintf("%f", snapshot.CostUsed),
		"updated_at":  snapshot.UpdatedAt.Format(time.RFC3339Nano),
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, cache.TTLRunSnapshot)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) GetRunSnapshot(ctx context.Context, runID string) (*cache.RunSnapshot, error) {
	key := cache.KeyRunSnapshot + runID

	result, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	snap := &cache.RunSnapshot{Status: result["status"]}
	if v, err := strconv.Atoi(result["steps_used"]); err == nil {
		snap.StepsUsed = v
	}
	if v, err := strconv.Atoi(result["tokens_used"]); err == nil {
		snap.TokensUsed = v
	}
	if v, err := strconv.ParseFloat(result["cost_used"], 64); err == nil {
		snap.CostUsed = v
	}
	if v, err := time.Parse(time.RFC3339Nano, result["updated_at"]); err == nil {
		snap.UpdatedAt = v
	}
	return snap, nil
}

func (s *Store) DeleteRunSnapshot(ctx context.Context, runID string) error {
	return s.client.Del(ctx, cache.KeyRunSnapshot+runID).Err()
}

var _ cache.RunCache = (*Store)(nil)
