package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"docseval/internal/model"
	"docseval/internal/storage"
)

func (s *Store) CreateSkillSession(ctx context.Context, session *model.SkillOptimizationSession) error {
	query := s.rebind(`INSERT INTO skill_optimization_sessions (run_id, status, source_skill_origin, created_at)
		VALUES ($1, $2, $3, $4)`)
	_, err := s.db.ExecContext(ctx, query, session.RunID, session.Status, session.SourceSkillOrigin, session.CreatedAt)
	return err
}

func (s *Store) UpdateSkillSession(ctx context.Context, session *model.SkillOptimizationSession) error {
	baselineJSON, _ := json.Marshal(session.BaselineTotals)
	optimizedJSON, _ := json.Marshal(session.OptimizedTotals)
	deltaJSON, _ := json.Marshal(session.Delta)

	query := s.rebind(`UPDATE skill_optimization_sessions
		SET status = $1, baseline_totals = $2, optimized_totals = $3, delta = $4, error_message = $5
		WHERE run_id = $6`)
	_, err := s.db.ExecContext(ctx, query, session.Status, nullableTotals(session.BaselineTotals, baselineJSON), nullableTotals(session.OptimizedTotals, optimizedJSON), nullableTotals(session.Delta, deltaJSON), session.ErrorMessage, session.RunID)
	return err
}

func nullableTotals(present any, encoded []byte) interface{} {
	if present == nil {
		return nil
	}
	return string(encoded)
}

func (s *Store) GetSkillSession(ctx context.Context, runID string) (*model.SkillOptimizationSession, error) {
	query := s.rebind(`SELECT run_id, status, source_skill_origin, baseline_totals, optimized_totals, delta, error_message, created_at
		FROM skill_optimization_sessions WHERE run_id = $1`)
	row := s.db.QueryRowContext(ctx, query, runID)

	var sess model.SkillOptimizationSession
	var baseline, optimized, delta, errMsg sql.NullString
	if err := row.Scan(&sess.RunID, &sess.Status, &sess.SourceSkillOrigin, &baseline, &optimized, &delta, &errMsg, &sess.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	sess.ErrorMessage = errMsg.String
	if baseline.Valid {
		var t model.RunTotals
		_ = json.Unmarshal([]byte(baseline.String), &t)
		sess.BaselineTotals = &t
	}
	if optimized.Valid {
		var t model.RunTotals
		_ = json.Unmarshal([]byte(optimized.String), &t)
		sess.OptimizedTotals = &t
	}
	if delta.Valid {
		var d model.TotalsDelta
		_ = json.Unmarshal([]byte(delta.String), &d)
		sess.Delta = &d
	}
	return &sess, nil
}
