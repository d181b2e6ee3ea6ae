package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5000

// Store wraps the SQLite handle the store server persists documents
// through. Documents are opaque JSON blobs keyed by (collection path,
// document id); insertion order is preserved so collections reload in
// the order they were first written.
type Store struct {
	db *sql.DB
}

// DocRow is one persisted document.
type DocRow struct {
	ID     string
	Fields []byte
}

// NewStore initializes the SQLite database at the provided path. Call
// Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "understory.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL,
			id TEXT NOT NULL,
			fields TEXT NOT NULL,
			UNIQUE (path, id)
		);`,
		`CREATE INDEX IF NOT EXISTS documents_path ON documents(path);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PutDoc inserts or replaces a document's JSON payload. Replacing keeps
// the original insertion sequence so reload order stays stable.
func (s *Store) PutDoc(ctx context.Context, path, id string, fields []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents(path, id, fields) VALUES(?, ?, ?)
		ON CONFLICT(path, id) DO UPDATE SET fields = excluded.fields
	`, path, id, string(fields))
	return err
}

// DeleteDoc removes a document. Deleting a missing document is not an
// error.
func (s *Store) DeleteDoc(ctx context.Context, path, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ? AND id = ?`, path, id)
	return err
}

// GetDoc fetches one document, returning nil when absent.
func (s *Store) GetDoc(ctx context.Context, path, id string) (*DocRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, fields FROM documents WHERE path = ? AND id = ?`, path, id)
	var doc DocRow
	var fields string
	if err := row.Scan(&doc.ID, &fields); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	doc.Fields = []byte(fields)
	return &doc, nil
}

// ListDocs returns every document under a path in insertion order.
func (s *Store) ListDocs(ctx context.Context, path string) ([]DocRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, fields FROM documents WHERE path = ? ORDER BY seq ASC`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []DocRow
	for rows.Next() {
		var doc DocRow
		var fields string
		if err := rows.Scan(&doc.ID, &fields); err != nil {
			return nil, err
		}
		doc.Fields = []byte(fields)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
