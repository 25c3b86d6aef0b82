package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/petrijr/fabula/pkg/api"
)

// SQLiteEventLog stores pipeline events in SQLite. It implements both
// EventLog (durable history for auditing) and Emitter, so it can be
// handed straight to a publisher as the event transport.
type SQLiteEventLog struct {
	db *sql.DB
}

// Ensure SQLiteEventLog implements the interfaces.
var _ api.EventLog = (*SQLiteEventLog)(nil)
var _ api.Emitter = (*SQLiteEventLog)(nil)

func NewSQLiteEventLog(db *sql.DB) (*SQLiteEventLog, error) {
	l := &SQLiteEventLog{db: db}
	if err := l.initSchema(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLiteEventLog) initSchema() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			node TEXT NOT NULL DEFAULT '',
			iteration INTEGER NOT NULL DEFAULT 0,
			detail TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id, id);
	`)
	return err
}

func (l *SQLiteEventLog) AppendEvent(ctx context.Context, ev api.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	var data []byte
	if len(ev.Data) > 0 {
		var err error
		data, err = json.Marshal(ev.Data)
		if err != nil {
			return err
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO run_events (run_id, at, type, node, iteration, detail, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID,
		at.UnixNano(),
		string(ev.Type),
		ev.Node,
		ev.Iteration,
		ev.Detail,
		string(data),
	)
	return err
}

func (l *SQLiteEventLog) ListEvents(ctx context.Context, runID string) ([]api.Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, at, type, node, iteration, detail, data
		FROM run_events
		WHERE run_id = ?
		ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.Event
	for rows.Next() {
		var (
			id        string
			atN       int64
			typ       string
			node      string
			iteration int
			detail    string
			data      string
		)
		if err := rows.Scan(&id, &atN, &typ, &node, &iteration, &detail, &data); err != nil {
			return nil, err
		}
		ev := api.Event{
			RunID:     id,
			At:        time.Unix(0, atN),
			Type:      api.EventType(typ),
			Node:      node,
			Iteration: iteration,
			Detail:    detail,
		}
		if data != "" {
			if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Emit appends the event, making the log usable as an event transport.
func (l *SQLiteEventLog) Emit(ctx context.Context, ev api.Event) error {
	return l.AppendEvent(ctx, ev)
}
