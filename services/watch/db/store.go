// Package db records run and notification history. The history store is
// an audit trail; the pipeline's correctness never depends on it.
package db

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

type Store struct {
	db *sql.DB
}

// Open connects to a history database and applies the schema. Local
// paths and :memory: use the embedded sqlite driver, libsql:// urls the
// remote one.
func Open(dsn string) (Store, error) {
	driver := "sqlite"
	if strings.HasPrefix(dsn, "libsql://") {
		driver = "libsql"
	}
	database, err := sql.Open(driver, dsn)
	if err != nil {
		return Store{}, err
	}
	_, err = database.Exec(Schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return Store{}, err
	}
	return Store{db: database}, nil
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

func (s Store) Close() error {
	return s.db.Close()
}

type Run struct {
	Id         string
	StartedAt  time.Time
	Payloads   int
	Candidates int
	Matches    int
	NewMatches int
}

type Notification struct {
	RunId       string
	EventId     string
	Summary     string
	Url         string
	SentAt      time.Time
	TransportOk bool
	SignupState string
}

func (s Store) RecordRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, payloads, candidates, matches, new_matches)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.Id, run.StartedAt.Unix(), run.Payloads, run.Candidates, run.Matches, run.NewMatches,
	)
	return err
}

func (s Store) RecordNotification(ctx context.Context, n Notification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (run_id, event_id, summary, url, sent_at, transport_ok, signup_state)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.RunId, n.EventId, n.Summary, n.Url, n.SentAt.Unix(), boolToInt(n.TransportOk), n.SignupState,
	)
	return err
}

func (s Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, payloads, candidates, matches, new_matches
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var startedAt int64
		err = rows.Scan(&r.Id, &startedAt, &r.Payloads, &r.Candidates, &r.Matches, &r.NewMatches)
		if err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(startedAt, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s Store) NotificationsForRun(ctx context.Context, runId string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, event_id, summary, url, sent_at, transport_ok, signup_state
		 FROM notifications WHERE run_id = ? ORDER BY sent_at ASC`, runId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var sentAt int64
		var ok int
		err = rows.Scan(&n.RunId, &n.EventId, &n.Summary, &n.Url, &sentAt, &ok, &n.SignupState)
		if err != nil {
			return nil, err
		}
		n.SentAt = time.Unix(sentAt, 0)
		n.TransportOk = ok != 0
		out = append(out, n)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
