// Package history keeps a small sqlite ledger of completed downloads. The
// cache directory stays the source of truth for what is servable; the
// ledger only remembers where entries came from and how long they took.
package history

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/nanovideo/nanovideo/internal/fetch"
	"github.com/nanovideo/nanovideo/internal/safeurl"
)

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id       TEXT    NOT NULL,
	cache_key    TEXT    NOT NULL,
	url          TEXT    NOT NULL,
	format       TEXT    NOT NULL,
	filename     TEXT    NOT NULL,
	size         INTEGER NOT NULL,
	elapsed_ms   INTEGER NOT NULL,
	completed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS downloads_filename ON downloads(filename);
`

// Record is one completed download.
type Record struct {
	JobID       string    `json:"job_id"`
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	Format      string    `json:"format"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	ElapsedMS   int64     `json:"elapsed_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// Store wraps the sqlite handle. Safe for concurrent use (database/sql
// serialises; sqlite busy handling is left at driver defaults since writes
// are rare and tiny).
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open history db")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init history schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// RecordCompletion implements fetch.Recorder. Ledger writes are best-effort:
// a failure is logged, never surfaced to the download path.
func (s *Store) RecordCompletion(c fetch.Completion) {
	_, err := s.db.Exec(
		`INSERT INTO downloads (job_id, cache_key, url, format, filename, size, elapsed_ms, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.JobID, c.Key, c.URL, c.Format, c.Filename, c.Size, c.Elapsed.Milliseconds(), time.Now().Unix(),
	)
	if err != nil {
		log.WithError(err).WithField("key", c.Key).Warn("history: record failed")
	}
}

// ForFilenames returns the latest record per filename, for enriching /files.
func (s *Store) ForFilenames() (map[string]Record, error) {
	rows, err := s.db.Query(
		`SELECT job_id, cache_key, url, format, filename, size, elapsed_ms, completed_at
		 FROM downloads ORDER BY id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	out := make(map[string]Record)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[r.Filename] = r // later rows win: latest completion per filename
	}
	return out, rows.Err()
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT job_id, cache_key, url, format, filename, size, elapsed_ms, completed_at
		 FROM downloads ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var r Record
	var completed int64
	if err := rows.Scan(&r.JobID, &r.Key, &r.URL, &r.Format, &r.Filename, &r.Size, &r.ElapsedMS, &completed); err != nil {
		return Record{}, errors.Wrap(err, "scan history row")
	}
	r.CompletedAt = time.Unix(completed, 0).UTC()
	r.URL = safeurl.Redact(r.URL)
	return r, nil
}
