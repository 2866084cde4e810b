package budget

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docseval/internal/cache"
	"docseval/internal/model"
)

type fakeRunCoster struct {
	mu       sync.Mutex
	total    float64
	canceled bool
}

func (f *fakeRunCoster) IncrementRunCost(ctx context.Context, runID string, delta float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total += delta
	return f.total, nil
}

func (f *fakeRunCoster) IsRunCanceled(ctx context.Context, runID string) (bool, error) {
	return f.canceled, nil
}

type fakeCache struct {
	mu        sync.Mutex
	snapshots map[string]*cache.RunSnapshot
	setCalls  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{snapshots: map[string]*cache.RunSnapshot{}}
}

func (f *fakeCache) SetRunSnapshot(ctx context.Context, runID string, snapshot *cache.RunSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	f.snapshots[runID] = snapshot
	return nil
}

func (f *fakeCache) GetRunSnapshot(ctx context.Context, runID string) (*cache.RunSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[runID], nil
}

func (f *fakeCache) DeleteRunSnapshot(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snapshots, runID)
	return nil
}

func (f *fakeCache) Close() error { return nil }

func testConfig() model.RunConfig {
	return model.RunConfig{
		MaxStepsPerTask:  5,
		MaxTokensPerTask: 1000,
		HardCostCapUSD:   1.0,
	}
}

func TestApplyAccumulatesTalliesAndIncrementsStoreCost(t *testing.T) {
	store := &fakeRunCoster{}
	a := New(store, "run-1", testConfig())

	snap, err := a.Apply(context.Background(), Usage{InputTokens: 100, OutputTokens: 50, CostEstimate: 0.1})
	require.NoError(t, err)
	assert.Equal(t, 0, snap.StepsUsed)
	assert.Equal(t, 150, snap.TokensUsed)
	assert.InDelta(t, 0.1, snap.CostUsed, 1e-9)
	assert.InDelta(t, 0.1, store.total, 1e-9)

	snap2, err := a.Apply(context.Background(), Usage{InputTokens: 10, OutputTokens: 10, CostEstimate: 0.05})
	require.NoError(t, err)
	assert.Equal(t, 0, snap2.StepsUsed)
	assert.Equal(t, 170, snap2.TokensUsed)
	assert.InDelta(t, 0.15, snap2.CostUsed, 1e-9)
	assert.InDelta(t, 0.15, store.total, 1e-9)
}

func TestIncrementStepAdvancesStepsUsedOncePerIterationNotPerCall(t *testing.T) {
	store := &fakeRunCoster{}
	a := New(store, "run-1", testConfig())

	// Three model calls in one iteration (plan/act/reflect) apply usage
	// three times but must only count as one step.
	_, _ = a.Apply(context.Background(), Usage{InputTokens: 1})
	_, _ = a.Apply(context.Background(), Usage{InputTokens: 1})
	_, _ = a.Apply(context.Background(), Usage{InputTokens: 1})
	a.IncrementStep()

	assert.Equal(t, 1, a.Snapshot().StepsUsed)
}

func TestApplyMirrorsSnapshotIntoCacheWhenAttached(t *testing.T) {
	store := &fakeRunCoster{}
	fc := newFakeCache()
	a := New(store, "run-1", testConfig()).WithCache(fc)

	_, err := a.Apply(context.Background(), Usage{InputTokens: 10, OutputTokens: 0, CostEstimate: 0.2})
	require.NoError(t, err)

	assert.Equal(t, 1, fc.setCalls)
	snap, err := fc.GetRunSnapshot(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.InDelta(t, 0.2, snap.CostUsed, 1e-9)
	assert.Equal(t, 10, snap.TokensUsed)
}

func TestApplyWithoutCacheNeverPanics(t *testing.T) {
	store := &fakeRunCoster{}
	a := New(store, "run-1", testConfig())
	assert.NotPanics(t, func() {
		_, _ = a.Apply(context.Background(), Usage{InputTokens: 1, OutputTokens: 1, CostEstimate: 0.01})
	})
}

func TestCheckAfterCallTokenLimit(t *testing.T) {
	store := &fakeRunCoster{}
	cfg := testConfig()
	cfg.MaxTokensPerTask = 10
	a := New(store, "run-1", cfg)

	_, err := a.Apply(context.Background(), Usage{InputTokens: 5, OutputTokens: 5, CostEstimate: 0})
	require.NoError(t, err)

	stop, err := a.CheckAfterCall(context.Background())
	require.NoError(t, err)
	assert.True(t, stop.Should)
	assert.Equal(t, model.StopReasonTokenLimit, stop.Reason)
}

func TestCheckAfterCallCancellation(t *testing.T) {
	store := &fakeRunCoster{canceled: true}
	a := New(store, "run-1", testConfig())

	stop, err := a.CheckAfterCall(context.Background())
	require.NoError(t, err)
	assert.True(t, stop.Should)
	assert.Equal(t, model.StopReasonCancelled, stop.Reason)
}

func TestCheckAfterCallCostCapSkipsEvaluation(t *testing.T) {
	store := &fakeRunCoster{total: 2.0}
	cfg := testConfig()
	cfg.HardCostCapUSD = 1.0
	a := New(store, "run-1", cfg)

	stop, err := a.CheckAfterCall(context.Background())
	require.NoError(t, err)
	assert.True(t, stop.Should)
	assert.Equal(t, model.StopReasonCostLimit, stop.Reason)
	assert.True(t, stop.SkipNoEval)
}

func TestCheckTopOfIterationStepLimit(t *testing.T) {
	store := &fakeRunCoster{}
	cfg := testConfig()
	cfg.MaxStepsPerTask = 2
	a := New(store, "run-1", cfg)

	a.IncrementStep()
	a.IncrementStep()

	stop := a.CheckTopOfIteration()
	assert.True(t, stop.Should)
	assert.Equal(t, model.StopReasonStepLimit, stop.Reason)
}

func TestSnapshotRemaining(t *testing.T) {
	cfg := testConfig()
	snap := Snapshot{StepsUsed: 2, TokensUsed: 100, CostUsed: 0.3}
	remaining := snap.Remaining(cfg)
	assert.Equal(t, cfg.MaxStepsPerTask-2, remaining.StepsRemaining)
	assert.Equal(t, cfg.MaxTokensPerTask-100, remaining.TokensRemaining)
	assert.InDelta(t, cfg.HardCostCapUSD-0.3, remaining.CostRemaining, 1e-9)
}

func TestSnapshotRemainingNeverNegative(t *testing.T) {
	cfg := testConfig()
	snap := Snapshot{StepsUsed: 999, TokensUsed: 999999, CostUsed: 999}
	remaining := snap.Remaining(cfg)
	assert.Equal(t, 0, remaining.StepsRemaining)
	assert.Equal(t, 0, remaining.TokensRemaining)
	assert.Equal(t, 0.0, remaining.CostRemaining)
}

func TestDefaultCostFunc(t *testing.T) {
	cost := DefaultCostFunc(1_000_000, 1_000_000)
	assert.InDelta(t, 2.5, cost, 1e-9)
}
