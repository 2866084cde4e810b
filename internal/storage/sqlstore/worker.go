package sqlstore

import (
	"context"

	"docseval/internal/model"
	"docseval/internal/storage"
)

// EnsureRunWorkers is idempotent: if the run already has workers
// persisted (from a prior call, e.g. phase re-run), those are returned
// unchanged rather than duplicated, matching spec.md §4.9's "provision
// workers (idempotent; if already provisioned, reuse)".
func (s *Store) EnsureRunWorkers(ctx context.Context, runID string, workers []model.Worker) ([]model.Worker, error) {
	existing, err := s.ListWorkers(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := s.rebind(`INSERT INTO workers (id, run_id, worker_label, model_provider, model_name, model_config, status, container_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	for i := range workers {
		if workers[i].ID == "" {
			workers[i].ID = storage.NewID("wkr")
		}
		workers[i].RunID = runID
		if workers[i].Status == "" {
			workers[i].Status = model.WorkerStatusIdle
		}
		w := workers[i]
		if _, err := tx.ExecContext(ctx, query, w.ID, runID, w.WorkerLabel, w.ModelProvider, w.ModelName, nullableJSON(w.ModelConfig), w.Status, w.ContainerRef); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return workers, nil
}

func (s *Store) UpdateWorkerStatus(ctx context.Context, workerID string, status model.WorkerStatus) error {
	query := s.rebind(`UPDATE workers SET status = $1 WHERE id = $2`)
	_, err := s.db.ExecContext(ctx, query, status, workerID)
	return err
}

func (s *Store) ListWorkers(ctx context.Context, runID string) ([]model.Worker, error) {
	query := s.rebind(`SELECT id, run_id, worker_label, model_provider, model_name, model_config, status, container_ref
		FROM workers WHERE run_id = $1 ORDER BY worker_label`)
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Worker
	for rows.Next() {
		var w model.Worker
		var cfg *string
		var containerRef *string
		if err := rows.Scan(&w.ID, &w.RunID, &w.WorkerLabel, &w.ModelProvider, &w.ModelName, &cfg, &w.Status, &containerRef); err != nil {
			return nil, err
		}
		if cfg != nil {
			w.ModelConfig = []byte(*cfg)
		}
		if containerRef != nil {
			w.ContainerRef = *containerRef
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
