package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"docseval/internal/model"
	"docseval/internal/storage"
)

func (s *Store) PersistTasks(ctx context.Context, tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := s.rebind(`INSERT INTO tasks (id, run_id, name, description, category, difficulty, expected_signals, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	for _, t := range tasks {
		sigJSON, err := json.Marshal(t.ExpectedSignals)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, t.ID, t.RunID, t.Name, t.Description, t.Category, t.Difficulty, string(sigJSON), t.Status, t.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error {
	query := s.rebind(`UPDATE tasks SET status = $1 WHERE id = $2`)
	_, err := s.db.ExecContext(ctx, query, status, taskID)
	return err
}

func scanTask(scan func(dest ...any) error) (model.Task, error) {
	var t model.Task
	var sigJSON string
	if err := scan(&t.ID, &t.RunID, &t.Name, &t.Description, &t.Category, &t.Difficulty, &sigJSON, &t.Status, &t.CreatedAt); err != nil {
		return t, err
	}
	_ = json.Unmarshal([]byte(sigJSON), &t.ExpectedSignals)
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, runID string) ([]model.Task, error) {
	query := s.rebind(`SELECT id, run_id, name, description, category, difficulty, expected_signals, status, created_at
		FROM tasks WHERE run_id = $1 ORDER BY created_at`)
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	query := s.rebind(`SELECT id, run_id, name, description, category, difficulty, expected_signals, status, created_at
		FROM tasks WHERE id = $1`)
	row := s.db.QueryRowContext(ctx, query, taskID)
	t, err := scanTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}
