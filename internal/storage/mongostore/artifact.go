package mongostore

import (
	"context"

	"docseval/internal/model"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func (s *Store) PersistIngestionArtifacts(ctx context.Context, runID string, artifacts []model.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}
	docs := make([]interface{}, len(artifacts))
	for i := range artifacts {
		docs[i] = artifacts[i]
	}
	_, err := s.col(colArtifacts).InsertMany(ctx, docs)
	return wrapError(err)
}

func (s *Store) ListArtifacts(ctx context.Context, runID string) ([]model.Artifact, error) {
	return findMany[model.Artifact](ctx, s.col(colArtifacts), bson.D{{Key: "runId", Value: runID}})
}

// ReplaceSkillArtifact mirrors the SQL driver's delete-then-insert
// transaction with Mongo's own per-collection transaction session,
// since a plain DeleteMany+InsertOne here is not atomic across
// documents the way a single-document $inc update is.
func (s *Store) ReplaceSkillArtifact(ctx context.Context, runID string, skill model.Artifact) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sessCtx context.Context) (interface{}, error) {
		col := s.col(colArtifacts)
		if _, err := col.DeleteMany(sessCtx, bson.D{
			{Key: "runId", Value: runID},
			{Key: "artifactType", Value: model.ArtifactTypeSkill},
		}); err != nil {
			return nil, err
		}
		skill.Type = model.ArtifactTypeOptimizedSkill
		if _, err := col.InsertOne(sessCtx, skill); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return wrapError(err)
}
