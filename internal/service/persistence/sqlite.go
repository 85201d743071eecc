package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/jervis/backend/internal/model/chat"
)

// SQLiteSink stores records in a local SQLite database, one row per record,
// keyed by collection path.
type SQLiteSink struct {
	db         *sql.DB
	collection string
}

// NewSQLite opens (or creates) the database at dbPath and scopes writes to
// the collection of appID.
func NewSQLite(dbPath, appID string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	sink := &SQLiteSink{db: db, collection: chat.CollectionPath(appID)}
	if err := sink.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return sink, nil
}

func (s *SQLiteSink) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		text TEXT NOT NULL,
		sender TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_collection_ts ON messages(collection, timestamp);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Collection returns the collection path records are written to.
func (s *SQLiteSink) Collection() string {
	return s.collection
}

// Record implements Sink.
func (s *SQLiteSink) Record(ctx context.Context, rec chat.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, collection, text, sender, timestamp) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), s.collection, rec.Text, rec.SenderID, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// List returns up to limit records of the sink's collection, newest first.
func (s *SQLiteSink) List(ctx context.Context, limit int) ([]chat.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT text, sender, timestamp FROM messages WHERE collection = ? ORDER BY timestamp DESC, rowid DESC LIMIT ?`,
		s.collection, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []chat.Record
	for rows.Next() {
		var rec chat.Record
		if err := rows.Scan(&rec.Text, &rec.SenderID, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Ping verifies database connectivity.
func (s *SQLiteSink) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteSink) Close() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite sink not open")
	}
	return s.db.Close()
}
