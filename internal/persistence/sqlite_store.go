package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/petrijr/fabula/pkg/api"
)

// SQLiteCheckpointStore is a CheckpointStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteCheckpointStore struct {
	db *sql.DB
}

// Ensure SQLiteCheckpointStore implements CheckpointStore.
var _ api.CheckpointStore = (*SQLiteCheckpointStore)(nil)

// NewSQLiteCheckpointStore initializes the required schema in the given
// database and returns a new SQLiteCheckpointStore.
func NewSQLiteCheckpointStore(db *sql.DB) (*SQLiteCheckpointStore, error) {
	s := &SQLiteCheckpointStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteCheckpointStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			artifact_type TEXT NOT NULL,
			content BLOB,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (run_id, phase, artifact_type)
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON checkpoints(run_id);`,
	)
	return err
}

func (s *SQLiteCheckpointStore) Store(ctx context.Context, runID string, phase api.Phase, artifactType string, content []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, phase, artifact_type, content, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, phase, artifact_type)
		DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		runID,
		string(phase),
		artifactType,
		content,
		time.Now().UnixNano(),
	)
	return err
}

func (s *SQLiteCheckpointStore) Get(ctx context.Context, runID string) (map[api.Phase]map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phase, artifact_type, content
		FROM checkpoints
		WHERE run_id = ?`,
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

func (s *SQLiteCheckpointStore) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT run_id FROM checkpoints ORDER BY run_id`)
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
