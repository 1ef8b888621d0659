package progress

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const ddl = `
CREATE TABLE IF NOT EXISTS collection_progress (
  run_key text NOT NULL,
  partition_id text NOT NULL,
  status text NOT NULL,
  subquery_index integer NOT NULL,
  page integer NOT NULL,
  records_so_far integer NOT NULL,
  updated_at timestamptz NOT NULL,
  failure_reason text NOT NULL DEFAULT '',
  PRIMARY KEY (run_key, partition_id)
);
`

const upsert = `
INSERT INTO collection_progress
  (run_key, partition_id, status, subquery_index, page, records_so_far, updated_at, failure_reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (run_key, partition_id) DO UPDATE SET
  status = EXCLUDED.status,
  subquery_index = EXCLUDED.subquery_index,
  page = EXCLUDED.page,
  records_so_far = EXCLUDED.records_so_far,
  updated_at = EXCLUDED.updated_at,
  failure_reason = EXCLUDED.failure_reason
`

// PostgresStore keeps progress in the collection_progress table, one row per
// (run_key, partition_id).
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore ensures the table exists. The store owns pool and closes it on Close.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, &PersistenceError{Backend: BackendPostgres, Op: "migrate", Err: err}
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, runKey string) (map[string]*PartitionProgress, error) {
	rows, err := s.pool.Query(ctx, `SELECT partition_id, status, subquery_index, page, records_so_far, updated_at, failure_reason
FROM collection_progress WHERE run_key = $1`, runKey)
	if err != nil {
		return nil, &PersistenceError{Backend: BackendPostgres, Op: "load", RunKey: runKey, Err: err}
	}
	defer rows.Close()

	out := make(map[string]*PartitionProgress)
	for rows.Next() {
		var p PartitionProgress
		var status string
		if err := rows.Scan(&p.PartitionID, &status, &p.SubqueryIndex, &p.Page, &p.RecordsSoFar, &p.UpdatedAt, &p.FailureReason); err != nil {
			return nil, &PersistenceError{Backend: BackendPostgres, Op: "load", RunKey: runKey, Err: err}
		}
		p.Status = Status(status)
		if err := p.Validate(); err != nil {
			return nil, &PersistenceError{Backend: BackendPostgres, Op: "load", RunKey: runKey, PartitionID: p.PartitionID, Err: err}
		}
		out[p.PartitionID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Backend: BackendPostgres, Op: "load", RunKey: runKey, Err: err}
	}
	return out, nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, runKey, partitionID string, p *PartitionProgress) error {
	_, err := s.pool.Exec(ctx, upsert,
		runKey, partitionID, string(p.Status), p.SubqueryIndex, p.Page, p.RecordsSoFar, p.UpdatedAt, p.FailureReason)
	recordWrite(BackendPostgres, err)
	if err != nil {
		return &PersistenceError{Backend: BackendPostgres, Op: "save", RunKey: runKey, PartitionID: partitionID, Err: err}
	}

	s.logger.Debug().
		Str("run_key", runKey).
		Str("partition", partitionID).
		Str("status", string(p.Status)).
		Msg("Progress saved")
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
