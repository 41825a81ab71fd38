package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS audio_jobs (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    script_parts TEXT NOT NULL,
    output_file TEXT,
    error TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    total_parts INTEGER NOT NULL DEFAULT 1,
    completed_parts INTEGER NOT NULL DEFAULT 0,
    artifact_url TEXT
);
CREATE INDEX IF NOT EXISTS idx_audio_jobs_created ON audio_jobs(created_at);
`

const selectColumns = `id, status, script_parts, output_file, error, created_at, updated_at, total_parts, completed_parts, artifact_url`

// SQLiteStore keeps jobs in an embedded SQLite database file.
type SQLiteStore struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// dsnPathEscaper percent-encodes the characters that would end the path part
// of a SQLite URI filename.
var dsnPathEscaper = strings.NewReplacer("%", "%25", "?", "%3F", "#", "%23")

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string, log *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &StorageError{Op: "open", Err: fmt.Errorf("create data dir: %w", err)}
		}
	}

	dsn := "file:" + dsnPathEscaper.Replace(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	// One writer at a time; jobs are independent rows so this costs little.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Err: fmt.Errorf("ping sqlite: %w", err)}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Err: fmt.Errorf("init schema: %w", err)}
	}

	log.Debug("Job store opened", "path", path)
	return &SQLiteStore{db: db, log: log, clock: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Insert(ctx context.Context, job *Job) error {
	parts, err := json.Marshal(job.ScriptParts)
	if err != nil {
		return &StorageError{Op: "insert", Err: fmt.Errorf("marshal script parts: %w", err)}
	}

	now := s.clock().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audio_jobs (`+selectColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		job.ID, string(job.Status), string(parts), nullable(job.OutputFile), nullable(job.Error),
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt), job.TotalParts, job.CompletedParts,
		nullable(job.ArtifactURL))
	if err != nil {
		return &StorageError{Op: "insert", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Op: "insert", Err: err}
	}
	if n == 0 {
		return fmt.Errorf("insert job %s: %w", job.ID, ErrDuplicateKey)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, job *Job) error {
	parts, err := json.Marshal(job.ScriptParts)
	if err != nil {
		return &StorageError{Op: "update", Err: fmt.Errorf("marshal script parts: %w", err)}
	}

	job.UpdatedAt = s.clock().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE audio_jobs
		 SET status = ?, script_parts = ?, output_file = ?, error = ?,
		     updated_at = ?, total_parts = ?, completed_parts = ?, artifact_url = ?
		 WHERE id = ?`,
		string(job.Status), string(parts), nullable(job.OutputFile), nullable(job.Error),
		formatTime(job.UpdatedAt), job.TotalParts, job.CompletedParts, nullable(job.ArtifactURL),
		job.ID)
	if err != nil {
		return &StorageError{Op: "update", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Op: "update", Err: err}
	}
	if n == 0 {
		return fmt.Errorf("update job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM audio_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return job, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM audio_jobs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, &StorageError{Op: "list", Err: err}
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return jobs, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audio_jobs WHERE id = ?`, id)
	if err != nil {
		return false, &StorageError{Op: "delete", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &StorageError{Op: "delete", Err: err}
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job                  Job
		status, parts        string
		created, updated     string
		output, errMsg, aurl sql.NullString
	)
	if err := row.Scan(&job.ID, &status, &parts, &output, &errMsg, &created, &updated,
		&job.TotalParts, &job.CompletedParts, &aurl); err != nil {
		return nil, err
	}

	job.Status = JobStatus(status)
	job.OutputFile = output.String
	job.Error = errMsg.String
	job.ArtifactURL = aurl.String
	if err := json.Unmarshal([]byte(parts), &job.ScriptParts); err != nil {
		return nil, fmt.Errorf("decode script parts of %s: %w", job.ID, err)
	}

	var err error
	if job.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("decode created_at of %s: %w", job.ID, err)
	}
	if job.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("decode updated_at of %s: %w", job.ID, err)
	}
	return &job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
