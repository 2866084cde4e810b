package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"docseval/internal/model"
	"docseval/internal/storage"
)

func (s *Store) CreateTaskExecution(ctx context.Context, exec *model.TaskExecution) error {
	if exec.ID == "" {
		exec.ID = storage.NewID("exec")
	}
	query := s.rebind(`INSERT INTO task_executions (id, task_id, run_id, worker_id, phase, step_count, tokens_in, tokens_out, cost_estimate, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`)
	_, err := s.db.ExecContext(ctx, query, exec.ID, exec.TaskID, exec.RunID, exec.WorkerID, exec.Phase, exec.StepCount, exec.TokensIn, exec.TokensOut, exec.CostEstimate, exec.Status, exec.StartedAt)
	return err
}

func (s *Store) UpdateTaskExecutionProgress(ctx context.Context, execID string, stepCount, tokensIn, tokensOut int, costEstimate float64) error {
	query := s.rebind(`UPDATE task_executions SET step_count = $1, tokens_in = $2, tokens_out = $3, cost_estimate = $4 WHERE id = $5`)
	_, err := s.db.ExecContext(ctx, query, stepCount, tokensIn, tokensOut, costEstimate, execID)
	return err
}

func (s *Store) FinalizeTaskExecution(ctx context.Context, execID string, status model.TaskStatus, stopReason model.StopReason, finalAnswer string) error {
	query := s.rebind(`UPDATE task_executions SET status = $1, stop_reason = $2, final_answer = $3, finished_at = $4 WHERE id = $5`)
	_, err := s.db.ExecContext(ctx, query, status, stopReason, finalAnswer, s.now(), execID)
	return err
}

func (s *Store) GetTaskExecution(ctx context.Context, execID string) (*model.TaskExecution, error) {
	query := s.rebind(`SELECT id, task_id, run_id, worker_id, phase, step_count, tokens_in, tokens_out, cost_estimate, stop_reason, status, final_answer, started_at, finished_at
		FROM task_executions WHERE id = $1`)
	row := s.db.QueryRowContext(ctx, query, execID)
	e, err := scanExecution(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func scanExecution(scan func(dest ...any) error) (model.TaskExecution, error) {
	var e model.TaskExecution
	var stopReason, finalAnswer sql.NullString
	var finishedAt sql.NullTime
	if err := scan(&e.ID, &e.TaskID, &e.RunID, &e.WorkerID, &e.Phase, &e.StepCount, &e.TokensIn, &e.TokensOut, &e.CostEstimate, &stopReason, &e.Status, &finalAnswer, &e.StartedAt, &finishedAt); err != nil {
		return e, err
	}
	e.StopReason = model.StopReason(stopReason.String)
	e.FinalAnswer = finalAnswer.String
	if finishedAt.Valid {
		e.FinishedAt = &finishedAt.Time
	}
	return e, nil
}

func (s *Store) ListTaskExecutions(ctx context.Context, runID string, phase model.Phase) ([]model.TaskExecution, error) {
	query := s.rebind(`SELECT id, task_id, run_id, worker_id, phase, step_count, tokens_in, tokens_out, cost_estimate, stop_reason, status, final_answer, started_at, finished_at
		FROM task_executions WHERE run_id = $1 AND phase = $2 ORDER BY started_at`)
	rows, err := s.db.QueryContext(ctx, query, runID, phase)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TaskExecution
	for rows.Next() {
		e, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertTaskAgentState implements the "last writer wins per execution"
// policy from spec.md §9: a worker is strictly single-writer for its
// own execution's memory row, so a plain upsert needs no cross-writer
// coordination.
func (s *Store) UpsertTaskAgentState(ctx context.Context, state *model.AgentMemoryState) error {
	planJSON, _ := json.Marshal(state.Plan)
	visitedJSON, _ := json.Marshal(state.VisitedSources)
	factsJSON, _ := json.Marshal(state.Facts)
	summariesJSON, _ := json.Marshal(state.StepSummaries)
	budgetJSON, _ := json.Marshal(state.RemainingBudget)

	update := []string{
		"current_step = EXCLUDED.current_step",
		"goal = EXCLUDED.goal",
		"plan = EXCLUDED.plan",
		"visited_sources = EXCLUDED.visited_sources",
		"facts = EXCLUDED.facts",
		"step_summaries = EXCLUDED.step_summaries",
		"remaining_budget = EXCLUDED.remaining_budget",
		"updated_at = EXCLUDED.updated_at",
	}
	query := s.rebind(`INSERT INTO task_agent_state (task_execution_id, current_step, goal, plan, visited_sources, facts, step_summaries, remaining_budget, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) `) + s.dialect.UpsertConflict("task_execution_id", update)
	_, err := s.db.ExecContext(ctx, query, state.TaskExecutionID, state.CurrentStep, state.Goal, string(planJSON), string(visitedJSON), string(factsJSON), string(summariesJSON), string(budgetJSON), state.UpdatedAt)
	return err
}

func (s *Store) GetTaskAgentState(ctx context.Context, execID string) (*model.AgentMemoryState, error) {
	query := s.rebind(`SELECT task_execution_id, current_step, goal, plan, visited_sources, facts, step_summaries, remaining_budget, updated_at
		FROM task_agent_state WHERE task_execution_id = $1`)
	row := s.db.QueryRowContext(ctx, query, execID)

	var st model.AgentMemoryState
	var planJSON, visitedJSON, factsJSON, summariesJSON, budgetJSON string
	if err := row.Scan(&st.TaskExecutionID, &st.CurrentStep, &st.Goal, &planJSON, &visitedJSON, &factsJSON, &summariesJSON, &budgetJSON, &st.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal([]byte(planJSON), &st.Plan)
	_ = json.Unmarshal([]byte(visitedJSON), &st.VisitedSources)
	_ = json.Unmarshal([]byte(factsJSON), &st.Facts)
	_ = json.Unmarshal([]byte(summariesJSON), &st.StepSummaries)
	_ = json.Unmarshal([]byte(budgetJSON), &st.RemainingBudget)
	return &st, nil
}

func (s *Store) PersistTaskStep(ctx context.Context, step *model.StepTrace) error {
	if step.ID == "" {
		step.ID = storage.NewID("step")
	}
	query := s.rebind(`INSERT INTO task_steps (id, task_execution_id, step_index, phase, input, output, retrieval, decision, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	_, err := s.db.ExecContext(ctx, query, step.ID, step.TaskExecutionID, step.StepIndex, step.Phase, nullableJSON(step.Input), nullableJSON(step.Output), nullableJSON(step.Retrieval), nullableJSON(step.Decision), step.CreatedAt)
	return err
}

func (s *Store) PersistTaskStepCitations(ctx context.Context, citations []model.StepCitation) error {
	if len(citations) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := s.rebind(`INSERT INTO task_step_citations (id, step_id, source, snippet_hash, excerpt, start_offset, end_offset)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	for _, c := range citations {
		if c.ID == "" {
			c.ID = storage.NewID("cite")
		}
		if _, err := tx.ExecContext(ctx, query, c.ID, c.StepID, c.Source, c.SnippetHash, c.Excerpt, c.StartOffset, c.EndOffset); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListTaskSteps returns steps ordered strictly by (taskExecutionId, id)
// per spec.md §3's StepTrace ordering invariant.
func (s *Store) ListTaskSteps(ctx context.Context, execID string) ([]model.StepTrace, error) {
	query := s.rebind(`SELECT id, task_execution_id, step_index, phase, input, output, retrieval, decision, created_at
		FROM task_steps WHERE task_execution_id = $1 ORDER BY id`)
	rows, err := s.db.QueryContext(ctx, query, execID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StepTrace
	for rows.Next() {
		var st model.StepTrace
		var input, output, retrieval, decision *string
		if err := rows.Scan(&st.ID, &st.TaskExecutionID, &st.StepIndex, &st.Phase, &input, &output, &retrieval, &decision, &st.CreatedAt); err != nil {
			return nil, err
		}
		if input != nil {
			st.Input = json.RawMessage(*input)
		}
		if output != nil {
			st.Output = json.RawMessage(*output)
		}
		if retrieval != nil {
			st.Retrieval = json.RawMessage(*retrieval)
		}
		if decision != nil {
			st.Decision = json.RawMessage(*decision)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) PersistDeterministicChecks(ctx context.Context, checks []model.DeterministicCheckResult) error {
	if len(checks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := s.rebind(`INSERT INTO deterministic_checks (task_execution_id, name, passed, score_delta, details)
		VALUES ($1, $2, $3, $4, $5)`)
	for _, c := range checks {
		if _, err := tx.ExecContext(ctx, query, c.TaskExecutionID, c.Name, c.Passed, c.ScoreDelta, c.Details); err != nil {
			return err
		}
	}
	return tx.Commit()
}
