package sqlstore

import (
	"context"
	"encoding/json"

	"docseval/internal/model"
	"docseval/internal/storage"
)

func (s *Store) PersistIngestionArtifacts(ctx context.Context, runID string, artifacts []model.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := s.rebind(`INSERT INTO artifacts (id, run_id, artifact_type, source_url, content, object_key, content_hash, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	for _, a := range artifacts {
		if a.ID == "" {
			a.ID = storage.NewID("art")
		}
		if _, err := tx.ExecContext(ctx, query, a.ID, runID, a.Type, a.SourceURL, a.Content, a.ObjectKey, a.ContentHash, nullableJSON(a.Metadata), a.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullableJSON(b json.RawMessage) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (s *Store) ListArtifacts(ctx context.Context, runID string) ([]model.Artifact, error) {
	query := s.rebind(`SELECT id, run_id, artifact_type, source_url, content, object_key, content_hash, metadata, created_at
		FROM artifacts WHERE run_id = $1 ORDER BY created_at`)
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Artifact
	for rows.Next() {
		var a model.Artifact
		var meta *string
		if err := rows.Scan(&a.ID, &a.RunID, &a.Type, &a.SourceURL, &a.Content, &a.ObjectKey, &a.ContentHash, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		if meta != nil {
			a.Metadata = json.RawMessage(*meta)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ReplaceSkillArtifact removes any existing skill-typed artifact for
// the run and appends the given one, per spec.md §4.9 step 3's
// "remove any skill-typed artifact; append one synthetic skill
// artifact" re-derivation rule for the optimized phase.
func (s *Store) ReplaceSkillArtifact(ctx context.Context, runID string, skill model.Artifact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	del := s.rebind(`DELETE FROM artifacts WHERE run_id = $1 AND artifact_type = $2`)
	if _, err := tx.ExecContext(ctx, del, runID, model.ArtifactTypeSkill); err != nil {
		return err
	}

	if skill.ID == "" {
		skill.ID = storage.NewID("art")
	}
	ins := s.rebind(`INSERT INTO artifacts (id, run_id, artifact_type, source_url, content, object_key, content_hash, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if _, err := tx.ExecContext(ctx, ins, skill.ID, runID, model.ArtifactTypeOptimizedSkill, skill.SourceURL, skill.Content, skill.ObjectKey, skill.ContentHash, nullableJSON(skill.Metadata), skill.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}
