// Package revlog keeps a SQLite log of document revisions: explicit saves,
// completed AI edits, and reloads from disk.
package revlog

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS revisions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_path    TEXT NOT NULL,
	source      TEXT NOT NULL,
	checksum    TEXT NOT NULL DEFAULT '',
	markdown    TEXT NOT NULL DEFAULT '',
	explanation TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_revisions_doc ON revisions(doc_path, id);
`

// Log is the revision store the host packages depend on.
type Log interface {
	Record(rev models.Revision) (int64, error)
	List(docPath string, limit int) ([]models.Revision, error)
	Latest(docPath string) (*models.Revision, error)
	Close() error
}

var _ Log = (*DB)(nil)

// DB wraps a sql.DB holding the revisions table.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("revlog: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("revlog: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("revlog: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// Record appends a revision and returns its id. A zero CreatedAt is stamped
// with the current time.
func (db *DB) Record(rev models.Revision) (int64, error) {
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now().UTC()
	}
	res, err := db.conn.Exec(`
		INSERT INTO revisions (doc_path, source, checksum, markdown, explanation, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rev.DocPath, rev.Source, rev.Checksum, rev.Markdown, rev.Explanation, rev.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("revlog: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("revlog: last id: %w", err)
	}
	return id, nil
}

// List returns the newest revisions of a document first, without their
// markdown bodies. limit <= 0 means 50.
func (db *DB) List(docPath string, limit int) ([]models.Revision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(`
		SELECT id, doc_path, source, checksum, explanation, created_at
		FROM revisions WHERE doc_path = ?
		ORDER BY id DESC LIMIT ?
	`, docPath, limit)
	if err != nil {
		return nil, fmt.Errorf("revlog: list: %w", err)
	}
	defer rows.Close()

	var out []models.Revision
	for rows.Next() {
		var r models.Revision
		if err := rows.Scan(&r.ID, &r.DocPath, &r.Source, &r.Checksum, &r.Explanation, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("revlog: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Latest returns the most recent revision of a document, markdown included.
func (db *DB) Latest(docPath string) (*models.Revision, error) {
	var r models.Revision
	err := db.conn.QueryRow(`
		SELECT id, doc_path, source, checksum, markdown, explanation, created_at
		FROM revisions WHERE doc_path = ?
		ORDER BY id DESC LIMIT 1
	`, docPath).Scan(&r.ID, &r.DocPath, &r.Source, &r.Checksum, &r.Markdown, &r.Explanation, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("revlog: latest %s: %w", docPath, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("revlog: latest: %w", err)
	}
	return &r, nil
}
