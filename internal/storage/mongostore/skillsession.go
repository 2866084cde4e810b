package mongostore

import (
	"context"

	"docseval/internal/model"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func (s *Store) CreateSkillSession(ctx context.Context, session *model.SkillOptimizationSession) error {
	return insertOne(ctx, s.col(colSkillSessions), session)
}

func (s *Store) UpdateSkillSession(ctx context.Context, session *model.SkillOptimizationSession) error {
	return updateFields(ctx, s.col(colSkillSessions), session.RunID, bson.D{
		{Key: "status", Value: session.Status},
		{Key: "baselineTotals", Value: session.BaselineTotals},
		{Key: "optimizedTotals", Value: session.OptimizedTotals},
		{Key: "delta", Value: session.Delta},
		{Key: "errorMessage", Value: session.ErrorMessage},
	})
}

func (s *Store) GetSkillSession(ctx context.Context, runID string) (*model.SkillOptimizationSession, error) {
	return findOne[model.SkillOptimizationSession](ctx, s.col(colSkillSessions), bson.D{{Key: "_id", Value: runID}})
}
