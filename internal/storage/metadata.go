package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when no run is indexed under a job id.
var ErrRunNotFound = errors.New("run not found")

// Run is one row of the run index.
type Run struct {
	JobID          string    `json:"job_id"`
	BaseName       string    `json:"base_name"`
	SourceType     string    `json:"source_type"`
	Status         string    `json:"status"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	TranscriptPath string    `json:"transcript_path,omitempty"`
	GDriveURL      string    `json:"gdrive_url,omitempty"`
	Duration       float64   `json:"duration_seconds"`
	WordCount      int       `json:"word_count"`
	SegmentCount   int       `json:"segment_count"`
	SpeakerCount   int       `json:"speaker_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// MetadataDB indexes pipeline runs in SQLite.
type MetadataDB struct {
	db    *sql.DB
	clock func() time.Time
}

// NewMetadataDB opens (creating if needed) the run index at dbPath.
func NewMetadataDB(ctx context.Context, dbPath string) (*MetadataDB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		base_name TEXT NOT NULL,
		source_type TEXT NOT NULL,
		status TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		transcript_path TEXT NOT NULL DEFAULT '',
		gdrive_url TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		duration REAL NOT NULL DEFAULT 0,
		word_count INTEGER NOT NULL DEFAULT 0,
		segment_count INTEGER NOT NULL DEFAULT 0,
		speaker_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_base_name ON runs(base_name);
	`
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &MetadataDB{db: db, clock: time.Now}, nil
}

// SaveRun inserts or replaces the row for run.JobID. A zero CreatedAt is
// stamped with the current time.
func (mdb *MetadataDB) SaveRun(ctx context.Context, run Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = mdb.clock()
	}
	query := `
	INSERT INTO runs (job_id, base_name, source_type, status, error_kind, transcript_path, gdrive_url, created_at, duration, word_count, segment_count, speaker_count)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_id) DO UPDATE SET
		base_name = excluded.base_name,
		status = excluded.status,
		error_kind = excluded.error_kind,
		transcript_path = excluded.transcript_path,
		gdrive_url = excluded.gdrive_url,
		duration = excluded.duration,
		word_count = excluded.word_count,
		segment_count = excluded.segment_count,
		speaker_count = excluded.speaker_count
	`
	_, err := mdb.db.ExecContext(ctx, query,
		run.JobID, run.BaseName, run.SourceType, run.Status, run.ErrorKind,
		run.TranscriptPath, run.GDriveURL, run.CreatedAt.UnixMilli(),
		run.Duration, run.WordCount, run.SegmentCount, run.SpeakerCount)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

const runColumns = `job_id, base_name, source_type, status, error_kind, transcript_path, gdrive_url, created_at, duration, word_count, segment_count, speaker_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run       Run
		createdAt int64
	)
	err := row.Scan(&run.JobID, &run.BaseName, &run.SourceType, &run.Status, &run.ErrorKind,
		&run.TranscriptPath, &run.GDriveURL, &createdAt, &run.Duration,
		&run.WordCount, &run.SegmentCount, &run.SpeakerCount)
	if err != nil {
		return Run{}, err
	}
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	return run, nil
}

// GetRun returns the run indexed under jobID.
func (mdb *MetadataDB) GetRun(ctx context.Context, jobID string) (Run, error) {
	row := mdb.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE job_id = ?`, jobID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (mdb *MetadataDB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := mdb.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the database connection
func (mdb *MetadataDB) Close() error {
	return mdb.db.Close()
}
