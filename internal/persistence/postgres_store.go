package persistence

import (
	"context"
	"database/sql"

	"github.com/petrijr/fabula/pkg/api"
)

// PostgresCheckpointStore is a CheckpointStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib" or "github.com/lib/pq").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresCheckpointStore struct {
	db *sql.DB
}

// Ensure PostgresCheckpointStore implements CheckpointStore.
var _ api.CheckpointStore = (*PostgresCheckpointStore)(nil)

// NewPostgresCheckpointStore initializes the required schema in the
// given database and returns a new PostgresCheckpointStore.
func NewPostgresCheckpointStore(db *sql.DB) (*PostgresCheckpointStore, error) {
	s := &PostgresCheckpointStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresCheckpointStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			artifact_type TEXT NOT NULL,
			content BYTEA,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (run_id, phase, artifact_type)
		);
	`)
	return err
}

func (s *PostgresCheckpointStore) Store(ctx context.Context, runID string, phase api.Phase, artifactType string, content []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, phase, artifact_type, content, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (run_id, phase, artifact_type)
		DO UPDATE SET content = EXCLUDED.content, updated_at = now()
	`,
		runID,
		string(phase),
		artifactType,
		content,
	)
	return err
}

func (s *PostgresCheckpointStore) Get(ctx context.Context, runID string) (map[api.Phase]map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phase, artifact_type, content
		FROM checkpoints
		WHERE run_id = $1
	`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[api.Phase]map[string][]byte)
	for rows.Next() {
		var phaseStr, artifactType string
		var content []byte
		if err := rows.Scan(&phaseStr, &artifactType, &content); err != nil {
			return nil, err
		}
		phase := api.Phase(phaseStr)
		if out[phase] == nil {
			out[phase] = make(map[string][]byte)
		}
		out[phase][artifactType] = content
	}
	return out, rows.Err()
}

func (s *PostgresCheckpointStore) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT run_id FROM checkpoints ORDER BY run_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
