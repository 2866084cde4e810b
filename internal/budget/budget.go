// Package budget implements the Budget Accountant (C3): per-execution
// token/step/cost tallies and the run-level cost cap.
//
// Grounded on the teacher's atomic `UPDATE ... SET cost = cost + ?`
// idiom in internal/shared/storage/repository/run.go — run cost is
// mutated through a single atomic increment so concurrent workers never
// lose an update, and read back through the Store rather than cached
// locally, per SPEC_FULL.md §6.4 and the design note that the DB is the
// source of truth for P2.
package budget

import (
	"context"
	"sync"
	"time"

	"docseval/internal/cache"
	"docseval/internal/model"
)

// Usage is the accounting delta reported after one model call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostEstimate float64
}

// RunCoster is the subset of the Store this package needs to keep the
// run-level cost total authoritative.
type RunCoster interface {
	IncrementRunCost(ctx context.Context, runID string, delta float64) (newTotal float64, err error)
	IsRunCanceled(ctx context.Context, runID string) (bool, error)
}

// Accountant tracks one TaskExecution's (stepsUsed, tokensUsed,
// costUsed) tallies and enforces the §4.3 termination checks.
type Accountant struct {
	mu sync.Mutex

	store RunCoster
	runID string
	cache cache.RunCache

	maxStepsPerTask  int
	maxTokensPerTask int
	hardCostCapUSD   float64

	stepsUsed  int
	tokensUsed int
	costUsed   float64
}

// New constructs an Accountant for one task execution.
func New(store RunCoster, runID string, cfg model.RunConfig) *Accountant {
	return &Accountant{
		store:            store,
		runID:            runID,
		maxStepsPerTask:  cfg.MaxStepsPerTask,
		maxTokensPerTask: cfg.MaxTokensPerTask,
		hardCostCapUSD:   cfg.HardCostCapUSD,
	}
}

// WithCache attaches the hot run-snapshot cache. Every Apply call then
// best-effort mirrors the updated tallies into it; a cache write
// failure never fails Apply, since the Store write just above it is
// already the authoritative one.
func (a *Accountant) WithCache(c cache.RunCache) *Accountant {
	a.cache = c
	return a
}

// Snapshot is the current per-execution tallies, mirrored into
// AgentMemoryState.RemainingBudget after each Apply.
type Snapshot struct {
	StepsUsed  int
	TokensUsed int
	CostUsed   float64
}

func (a *Accountant) snapshotLocked() Snapshot {
	return Snapshot{StepsUsed: a.stepsUsed, TokensUsed: a.tokensUsed, CostUsed: a.costUsed}
}

// Remaining computes the RemainingBudget view for AgentMemoryState.
func (s Snapshot) Remaining(cfg model.RunConfig) model.RemainingBudget {
	return model.RemainingBudget{
		StepsRemaining:  max0(cfg.MaxStepsPerTask - s.StepsUsed),
		TokensRemaining: max0(cfg.MaxTokensPerTask - s.TokensUsed),
		CostRemaining:   maxF0(cfg.HardCostCapUSD - s.CostUsed),
	}
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func maxF0(n float64) float64 {
	if n < 0 {
		return 0
	}
	return n
}

// Apply adds usage to the per-execution totals and atomically adds cost
// to the run total. It must be called after every model call, before
// the next phase runs. It does not advance stepsUsed: an iteration
// makes three model calls (plan/act/reflect) but §4.3 bounds
// maxStepsPerTask in iterations, not calls — see IncrementStep.
func (a *Accountant) Apply(ctx context.Context, u Usage) (Snapshot, error) {
	a.mu.Lock()
	a.tokensUsed += u.InputTokens + u.OutputTokens
	a.costUsed += u.CostEstimate
	snap := a.snapshotLocked()
	a.mu.Unlock()

	newTotal, err := a.store.IncrementRunCost(ctx, a.runID, u.CostEstimate)
	if err != nil {
		return snap, err
	}

	if a.cache != nil {
		_ = a.cache.SetRunSnapshot(ctx, a.runID, &cache.RunSnapshot{
			StepsUsed:  snap.StepsUsed,
			TokensUsed: snap.TokensUsed,
			CostUsed:   newTotal,
			UpdatedAt:  time.Now().UTC(),
		})
	}
	return snap, nil
}

// Stop is the termination verdict returned by Check.
type Stop struct {
	Should     bool
	Reason     model.StopReason
	SkipNoEval bool // true when the task must be marked skipped without evaluation (cost_limit)
}

// CheckAfterCall evaluates the §4.3 termination checks in order after a
// model call: token limit, cancellation, then run cost cap.
func (a *Accountant) CheckAfterCall(ctx context.Context) (Stop, error) {
	a.mu.Lock()
	tokensUsed := a.tokensUsed
	a.mu.Unlock()

	if tokensUsed >= a.maxTokensPerTask {
		return Stop{Should: true, Reason: model.StopReasonTokenLimit}, nil
	}

	canceled, err := a.store.IsRunCanceled(ctx, a.runID)
	if err != nil {
		return Stop{}, err
	}
	if canceled {
		return Stop{Should: true, Reason: model.StopReasonCancelled}, nil
	}

	canceled2, runCost, err := a.runCost(ctx)
	if err != nil {
		return Stop{}, err
	}
	_ = canceled2
	if runCost >= a.hardCostCapUSD {
		return Stop{Should: true, Reason: model.StopReasonCostLimit, SkipNoEval: true}, nil
	}
	return Stop{}, nil
}

// IncrementStep records the start of one agent-loop iteration.
// Called once per iteration (not once per model call), so
// CheckTopOfIteration bounds maxStepsPerTask in iterations, per
// spec.md §4.6's "bounded by maxStepsPerTask iterations".
func (a *Accountant) IncrementStep() {
	a.mu.Lock()
	a.stepsUsed++
	a.mu.Unlock()
}

// CheckTopOfIteration evaluates the single top-of-iteration check:
// stepsUsed >= maxStepsPerTask.
func (a *Accountant) CheckTopOfIteration() Stop {
	a.mu.Lock()
	stepsUsed := a.stepsUsed
	a.mu.Unlock()
	if stepsUsed >= a.maxStepsPerTask {
		return Stop{Should: true, Reason: model.StopReasonStepLimit}
	}
	return Stop{}
}

// runCost reads back the authoritative run cost total. It adds nothing
// to the total: the read goes through IncrementRunCost with a zero delta.
func (a *Accountant) runCost(ctx context.Context) (bool, float64, error) {
	// IncrementRunCost with a zero delta both satisfies "read through the
	// same atomic path" and avoids a second store primitive solely for a
	// read, mirroring the teacher's single atomic-update code path.
	total, err := a.store.IncrementRunCost(ctx, a.runID, 0)
	if err != nil {
		return false, 0, err
	}
	return false, total, nil
}

// IsCanceled probes run cancellation directly, for the top-of-iteration
// and between-phase polling points §5 requires beyond the post-call
// checks in CheckAfterCall.
func (a *Accountant) IsCanceled(ctx context.Context) (bool, error) {
	return a.store.IsRunCanceled(ctx, a.runID)
}

// Snapshot returns the current tallies without mutating them.
func (a *Accountant) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// CostFunc computes the USD cost of one model call from token counts.
// Isolated behind an interface (per SPEC_FULL.md §9 / spec.md §9 design
// note "Cost pricing") so alternate pricing policies or provider-
// reported cost can replace the placeholder.
type CostFunc func(inputTokens, outputTokens int) float64

// DefaultCostFunc is the placeholder policy from spec.md §4.6:
// inputTokens/1e6 * 0.5 + outputTokens/1e6 * 2.0 USD.
func DefaultCostFunc(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*0.5 + float64(outputTokens)/1e6*2.0
}
