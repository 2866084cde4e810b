// Package mongostore implements storage.Store against MongoDB.
//
// Grounded on internal/shared/storage/mongostore/store.go: same
// mongo-driver/v2 client setup, per-collection index bootstrap, and
// findOne/findMany/wrapError helper shape, narrowed to the collections
// this module's Store actually needs.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"docseval/internal/storage"
	"docseval/pkg/logging"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	colRuns            = "runs"
	colRunErrors       = "run_errors"
	colArtifacts       = "artifacts"
	colTasks           = "tasks"
	colWorkers         = "workers"
	colExecutions      = "task_executions"
	colAgentState      = "task_agent_state"
	colSteps           = "task_steps"
	colCitations       = "task_step_citations"
	colChecks          = "deterministic_checks"
	colEvaluations     = "task_evaluations"
	colEvents          = "run_events"
	colEventSeqCounter = "run_event_seq_counters"
	colSkillSessions   = "skill_optimization_sessions"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to MongoDB and ensures indexes. uri is e.g.
// "mongodb://localhost:27017"; dbName is the target database.
func New(uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect failed: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongostore: ping failed: %w", err)
	}

	s := &Store{client: client, db: client.Database(dbName)}
	if err := s.ensureIndexes(ctx); err != nil {
		logging.Default("mongostore").WithError(err).Error("ensure indexes failed")
	}
	return s, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	type idx struct {
		col    string
		keys   bson.D
		unique bool
	}
	indexes := []idx{
		{colRunErrors, bson.D{{Key: "runId", Value: 1}}, false},
		{colArtifacts, bson.D{{Key: "runId", Value: 1}, {Key: "artifactType", Value: 1}, {Key: "sourceUrl", Value: 1}}, false},
		{colTasks, bson.D{{Key: "runId", Value: 1}}, false},
		{colWorkers, bson.D{{Key: "runId", Value: 1}}, false},
		{colExecutions, bson.D{{Key: "runId", Value: 1}, {Key: "phase", Value: 1}}, false},
		{colSteps, bson.D{{Key: "taskExecutionId", Value: 1}, {Key: "createdAt", Value: 1}}, false},
		{colCitations, bson.D{{Key: "stepId", Value: 1}}, false},
		{colChecks, bson.D{{Key: "taskExecutionId", Value: 1}}, false},
		{colEvaluations, bson.D{{Key: "runId", Value: 1}, {Key: "taskId", Value: 1}, {Key: "phase", Value: 1}}, true},
		{colEvents, bson.D{{Key: "runId", Value: 1}, {Key: "id", Value: 1}}, true},
		{colEvents, bson.D{{Key: "runId", Value: 1}, {Key: "seq", Value: 1}}, true},
	}
	for _, i := range indexes {
		m := mongo.IndexModel{Keys: i.keys}
		if i.unique {
			m.Options = options.Index().SetUnique(true)
		}
		if _, err := s.col(i.col).Indexes().CreateOne(ctx, m); err != nil {
			return fmt.Errorf("create index on %s: %w", i.col, err)
		}
	}
	return nil
}

var _ storage.Store = (*Store)(nil)
