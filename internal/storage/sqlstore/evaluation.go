package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"docseval/internal/model"
)

func (s *Store) PersistTaskEvaluation(ctx context.Context, eval *model.TaskEvaluation) error {
	scoresJSON, err := json.Marshal(eval.CriterionScores)
	if err != nil {
		return err
	}
	reasonsJSON, err := json.Marshal(eval.ValidityBlockedReasons)
	if err != nil {
		return err
	}
	var failureClass sql.NullString
	if eval.FailureClass != nil {
		failureClass = sql.NullString{String: string(*eval.FailureClass), Valid: true}
	}

	update := []string{
		"criterion_scores = EXCLUDED.criterion_scores",
		"pass = EXCLUDED.pass",
		"quality_pass = EXCLUDED.quality_pass",
		"validity_pass = EXCLUDED.validity_pass",
		"validity_blocked_reasons = EXCLUDED.validity_blocked_reasons",
		"failure_class = EXCLUDED.failure_class",
		"rationale = EXCLUDED.rationale",
		"judge_model = EXCLUDED.judge_model",
		"confidence = EXCLUDED.confidence",
	}
	query := s.rebind(`INSERT INTO task_evaluations (task_id, run_id, phase, criterion_scores, pass, quality_pass, validity_pass, validity_blocked_reasons, failure_class, rationale, judge_model, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) `) +
		s.dialect.UpsertConflict("run_id, task_id, phase", update)
	_, err = s.db.ExecContext(ctx, query, eval.TaskID, eval.RunID, eval.Phase, string(scoresJSON), eval.Pass, eval.QualityPass, eval.ValidityPass, string(reasonsJSON), failureClass, eval.Rationale, eval.JudgeModel, eval.Confidence, eval.CreatedAt)
	return err
}

func (s *Store) ListTaskEvaluations(ctx context.Context, runID string, phase model.Phase) ([]model.TaskEvaluation, error) {
	query := s.rebind(`SELECT task_id, run_id, phase, criterion_scores, pass, quality_pass, validity_pass, validity_blocked_reasons, failure_class, rationale, judge_model, confidence, created_at
		FROM task_evaluations WHERE run_id = $1 AND phase = $2`)
	rows, err := s.db.QueryContext(ctx, query, runID, phase)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TaskEvaluation
	for rows.Next() {
		var e model.TaskEvaluation
		var scoresJSON, reasonsJSON string
		var failureClass sql.NullString
		if err := rows.Scan(&e.TaskID, &e.RunID, &e.Phase, &scoresJSON, &e.Pass, &e.QualityPass, &e.ValidityPass, &reasonsJSON, &failureClass, &e.Rationale, &e.JudgeModel, &e.Confidence, &e.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(scoresJSON), &e.CriterionScores)
		_ = json.Unmarshal([]byte(reasonsJSON), &e.ValidityBlockedReasons)
		if failureClass.Valid {
			fc := model.FailureClass(failureClass.String)
			e.FailureClass = &fc
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
