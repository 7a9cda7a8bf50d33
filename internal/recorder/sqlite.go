package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/srg/myoctl/internal/protocol"
)

// SQLiteStore keeps records in a SQLite table.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (or creates) the database at path and migrates it.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open recording db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate recording db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS readings (
			id         TEXT PRIMARY KEY,
			session    TEXT NOT NULL,
			time       TEXT NOT NULL,
			handle     INTEGER NOT NULL,
			endpoint   TEXT NOT NULL,
			payload    BLOB NOT NULL
		)
	`); err != nil {
		return err
	}
	_, err := db.Exec("CREATE INDEX IF NOT EXISTS readings_session ON readings (session, id)")
	return err
}

func (s *SQLiteStore) Write(rec Record) error {
	return s.Insert(context.Background(), rec)
}

// Insert stores one record.
func (s *SQLiteStore) Insert(ctx context.Context, rec Record) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO readings (id, session, time, handle, endpoint, payload) VALUES (?, ?, ?, ?, ?, ?)",
		rec.ID, rec.Session, rec.Time.UTC().Format(time.RFC3339Nano),
		int(rec.Handle), rec.Endpoint.String(), rec.Payload,
	)
	return err
}

// ListBySession returns the records of one session in recording order.
func (s *SQLiteStore) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session, time, handle, endpoint, payload FROM readings WHERE session = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Sessions returns the recorded session IDs, oldest first.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT session FROM readings GROUP BY session ORDER BY MIN(id)")
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

// Close closes the database. Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec      Record
		ts       string
		handle   int
		endpoint string
	)
	if err := rows.Scan(&rec.ID, &rec.Session, &ts, &handle, &endpoint, &rec.Payload); err != nil {
		return Record{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Record{}, fmt.Errorf("record %s: bad time %q: %w", rec.ID, ts, err)
	}
	e, err := protocol.ParseEndpoint(endpoint)
	if err != nil {
		return Record{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.Time = t
	rec.Handle = protocol.Handle(handle)
	rec.Endpoint = e
	return rec, nil
}
