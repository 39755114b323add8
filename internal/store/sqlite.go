package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/gwlsn/clipshrink/internal/jobs"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS recordings (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	file_path TEXT NOT NULL,
	duration REAL NOT NULL DEFAULT 0,
	file_size INTEGER NOT NULL DEFAULT 0,
	camera_name TEXT NOT NULL DEFAULT '',
	resolution TEXT NOT NULL DEFAULT '',
	frame_rate INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transcode_jobs (
	id TEXT PRIMARY KEY,
	recording_id TEXT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
	output_path TEXT,
	config TEXT,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	output_size INTEGER,
	error TEXT,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON transcode_jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_recording ON transcode_jobs(recording_id);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON transcode_jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_recordings_created_at ON recordings(created_at);
`

// migrations[v] upgrades a database from version v to v+1. Add an entry
// here whenever schema changes and schemaVersion is bumped.
var migrations = map[int][]string{}

const jobColumns = `j.id, j.recording_id, j.output_path, j.config, j.status, j.progress,
	j.output_size, j.error, j.created_at, j.started_at, j.completed_at`

const recordingColumns = `id, filename, file_path, duration, file_size, camera_name,
	resolution, frame_rate, created_at`

// SQLiteStore implements jobs.Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex // Protects concurrent access
	path string
}

// NewSQLiteStore creates a new SQLite-backed store.
// The database file is created if it doesn't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection, so cascades
	// work regardless of which connection runs the delete.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// migrate creates the schema on a fresh database or walks an older one
// up to schemaVersion.
func migrate(db *sql.DB) error {
	var version int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	switch {
	case err == nil:
	case isMissingTable(db):
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("insert schema version: %w", err)
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check schema version: no version recorded")
	default:
		return fmt.Errorf("check schema version: %w", err)
	}

	if version > schemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, schemaVersion)
	}
	if version == schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for v := version; v < schemaVersion; v++ {
		for _, stmt := range migrations[v] {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("migration v%d->v%d failed: %w", v, v+1, err)
			}
		}
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("update schema version: %w", err)
	}
	return tx.Commit()
}

func isMissingTable(db *sql.DB) bool {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'").Scan(&n)
	return err == nil && n == 0
}

// AddRecording inserts a recording.
func (s *SQLiteStore) AddRecording(ctx context.Context, rec *jobs.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (`+recordingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.Filename, rec.FilePath, rec.Duration, rec.FileSize,
		rec.CameraName, rec.Resolution, rec.FrameRate, formatTime(rec.CreatedAt),
	)
	return err
}

// GetRecording retrieves a recording by ID.
func (s *SQLiteStore) GetRecording(ctx context.Context, id string) (*jobs.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", jobs.ErrRecordingNotFound, id)
	}
	return rec, err
}

// ListRecordings returns all recordings, newest first.
func (s *SQLiteStore) ListRecordings(ctx context.Context) ([]*jobs.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordingColumns+` FROM recordings
		ORDER BY created_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []*jobs.Recording{}
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// DeleteRecording removes a recording; its jobs go with it.
func (s *SQLiteStore) DeleteRecording(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM recordings WHERE id = ?", id)
	return err
}

// InsertJob creates a job row.
func (s *SQLiteStore) InsertJob(ctx context.Context, job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcode_jobs (
			id, recording_id, output_path, config, status, progress,
			output_size, error, created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.RecordingID, nullString(job.OutputPath), nullString(string(job.Config)),
		string(job.Status), job.Progress, nullInt64(job.OutputSize), nullString(job.Error),
		formatTime(job.CreatedAt), formatTimePtr(job.StartedAt), formatTimePtr(job.CompletedAt),
	)
	return err
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM transcode_jobs j WHERE j.id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id)
	}
	return job, err
}

// UpdateJob rewrites the mutable fields of a job.
func (s *SQLiteStore) UpdateJob(ctx context.Context, job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE transcode_jobs
		SET output_path = ?, status = ?, progress = ?, output_size = ?, error = ?,
			started_at = ?, completed_at = ?
		WHERE id = ?
	`,
		nullString(job.OutputPath), string(job.Status), job.Progress, nullInt64(job.OutputSize),
		nullString(job.Error), formatTimePtr(job.StartedAt), formatTimePtr(job.CompletedAt), job.ID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, job.ID)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM transcode_jobs WHERE id = ?", id)
	return err
}

// ListJobViews returns every job with its anchor recording's filename,
// newest first. Settings are left for the caller to decode from Config.
func (s *SQLiteStore) ListJobViews(ctx context.Context) ([]*jobs.JobView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`, COALESCE(r.filename, '')
		FROM transcode_jobs j
		LEFT JOIN recordings r ON r.id = j.recording_id
		ORDER BY j.created_at DESC, j.rowid DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := []*jobs.JobView{}
	for rows.Next() {
		v := &jobs.JobView{}
		if err := scanJobInto(rows, &v.Job, &v.SourceFilename); err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

// ListJobsByRecording returns the jobs anchored to a recording, newest first.
func (s *SQLiteStore) ListJobsByRecording(ctx context.Context, recordingID string) ([]*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM transcode_jobs j
		WHERE j.recording_id = ?
		ORDER BY j.created_at DESC, j.rowid DESC
	`, recordingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, job)
	}
	return list, rows.Err()
}

// FailUnfinishedJobs marks pending and processing jobs failed.
func (s *SQLiteStore) FailUnfinishedJobs(ctx context.Context, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE transcode_jobs
		SET status = ?, progress = 0, error = ?, completed_at = ?
		WHERE status IN (?, ?)
	`,
		string(jobs.StatusFailed), reason, formatTime(now()),
		string(jobs.StatusPending), string(jobs.StatusProcessing),
	)
	if err != nil {
		return 0, err
	}
	count, err := result.RowsAffected()
	return int(count), err
}

// CountByStatus returns job counts for every status, including zeros.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[jobs.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[jobs.Status]int{
		jobs.StatusPending:    0,
		jobs.StatusProcessing: 0,
		jobs.StatusCompleted:  0,
		jobs.StatusFailed:     0,
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM transcode_jobs GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[jobs.Status(status)] = n
	}
	return counts, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Helper functions for scanning rows

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var job jobs.Job
	if err := scanJobInto(row, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// scanJobInto scans jobColumns into job, followed by any extra columns.
func scanJobInto(row rowScanner, job *jobs.Job, extra ...any) error {
	var outputPath, config, errStr sql.NullString
	var outputSize sql.NullInt64
	var status string
	var createdAt, startedAt, completedAt sql.NullString

	dest := []any{
		&job.ID, &job.RecordingID, &outputPath, &config, &status, &job.Progress,
		&outputSize, &errStr, &createdAt, &startedAt, &completedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}

	job.OutputPath = outputPath.String
	if config.Valid {
		job.Config = []byte(config.String)
	}
	job.Status = jobs.Status(status)
	job.OutputSize = outputSize.Int64
	job.Error = errStr.String
	job.CreatedAt = parseTime(createdAt.String)
	job.StartedAt = parseTime(startedAt.String)
	job.CompletedAt = parseTime(completedAt.String)
	return nil
}

func scanRecording(row rowScanner) (*jobs.Recording, error) {
	var rec jobs.Recording
	var createdAt string
	err := row.Scan(
		&rec.ID, &rec.Filename, &rec.FilePath, &rec.Duration, &rec.FileSize,
		&rec.CameraName, &rec.Resolution, &rec.FrameRate, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = parseTime(createdAt)
	return &rec, nil
}
