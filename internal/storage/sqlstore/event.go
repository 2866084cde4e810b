package sqlstore

import (
	"context"
	"database/sql"
	"math/rand"
	"strings"
	"time"

	"docseval/internal/model"
)

const maxSeqRetries = 24

// AppendRunEvent durably appends one event and returns its dense,
// globally ordered id.
//
// The teacher's equivalent (internal/shared/storage/repository/event.go
// CreateEvents) is a plain transactional batch insert against an
// already-dense, caller-supplied seq; it has no conflict-retry loop.
// Spec.md §4.1 requires the store itself to compute
// seq = max(existing seq) + 1 and retry on a unique-constraint
// violation under concurrent appenders, so that part is authored fresh
// here, using the teacher's bounded-retry-with-jitter idiom (seen in
// its scheduler fallback polling) rather than a central sequencer.
func (s *Store) AppendRunEvent(ctx context.Context, runID string, eventType string, payload []byte) (int64, error) {
	selectSeq := s.rebind(`SELECT COALESCE(MAX(seq), 0) + 1 FROM run_events WHERE run_id = $1`)
	insert := s.rebind(`INSERT INTO run_events (run_id, seq, event_type, payload, created_at) VALUES ($1, $2, $3, $4, $5)`)

	var lastErr error
	for attempt := 0; attempt < maxSeqRetries; attempt++ {
		var seq int
		row := s.db.QueryRowContext(ctx, selectSeq, runID)
		if err := row.Scan(&seq); err != nil {
			return 0, err
		}

		res, err := s.db.ExecContext(ctx, insert, runID, seq, eventType, string(payload), time.Now().UTC())
		if err == nil {
			id, err := res.LastInsertId()
			if err == nil && id > 0 {
				return id, nil
			}
			// Postgres driver may not report LastInsertId; fall back to a
			// SELECT keyed on the (runId, seq) we just won.
			return s.readBackEventID(ctx, runID, seq)
		}
		if !isUniqueViolation(err) {
			return 0, err
		}
		lastErr = err

		backoff := time.Duration(rand.Intn(5)+1) * time.Millisecond
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return 0, lastErr
}

func (s *Store) readBackEventID(ctx context.Context, runID string, seq int) (int64, error) {
	query := s.rebind(`SELECT id FROM run_events WHERE run_id = $1 AND seq = $2`)
	var id int64
	row := s.db.QueryRowContext(ctx, query, runID, seq)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// GetRunEventsAfter cursors strictly by the dense auto-increment id,
// never by seq, per spec.md §4.1/§5. limit<=0 means unlimited, matching
// memstore and mongostore: LIMIT 0 in SQLite/Postgres returns zero rows,
// so the clause must be omitted rather than bound.
func (s *Store) GetRunEventsAfter(ctx context.Context, runID string, afterID int64, limit int) ([]model.RunEvent, error) {
	var rows *sql.Rows
	var err error
	if limit > 0 {
		query := s.rebind(`SELECT id, run_id, seq, event_type, payload, created_at
			FROM run_events WHERE run_id = $1 AND id > $2 ORDER BY id LIMIT $3`)
		rows, err = s.db.QueryContext(ctx, query, runID, afterID, limit)
	} else {
		query := s.rebind(`SELECT id, run_id, seq, event_type, payload, created_at
			FROM run_events WHERE run_id = $1 AND id > $2 ORDER BY id`)
		rows, err = s.db.QueryContext(ctx, query, runID, afterID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RunEvent
	for rows.Next() {
		var e model.RunEvent
		var payload string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Seq, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}
