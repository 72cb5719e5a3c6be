package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/ushalabs/beamcast/pkg/api"
	"github.com/ushalabs/beamcast/pkg/com"
)

// Sqlite persists viewer and engagement records into a local database.
type Sqlite struct {
	db *sql.DB
}

const schema = `
	CREATE TABLE IF NOT EXISTS viewers (
		id                     TEXT PRIMARY KEY,
		session_id             TEXT NOT NULL,
		user_agent             TEXT,
		remote_control_enabled INTEGER DEFAULT 0,
		joined_at              TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_activity          TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS engagement_events (
		id         TEXT PRIMARY KEY,
		viewer_id  TEXT NOT NULL,
		session_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_data TEXT,
		timestamp  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_viewers_session ON viewers(session_id);
	CREATE INDEX IF NOT EXISTS idx_engagement_session ON engagement_events(session_id);
`

func NewSqlite(path string) (*Sqlite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open the database [%v]: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("couldn't bootstrap the database schema: %w", err)
	}
	return &Sqlite{db: db}, nil
}

func (s *Sqlite) RecordViewerJoin(ctx context.Context, join ViewerJoin) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO viewers (id, session_id, user_agent, remote_control_enabled) VALUES (?, ?, ?, ?)`,
		join.ViewerId, join.SessionId, join.UserAgent, join.RemoteControl,
	)
	return err
}

func (s *Sqlite) RecordEngagement(ctx context.Context, ev api.EngagementEvent) error {
	id := ev.Id
	if id == "" {
		id = com.NewUid().String()
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO engagement_events (id, viewer_id, session_id, event_type, event_data, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, ev.ViewerId, ev.SessionId, ev.T, string(ev.Data), ts,
	)
	return err
}

func (s *Sqlite) Close() error { return s.db.Close() }
