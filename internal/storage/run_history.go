package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/scash-manager/internal/model"
)

// ErrRunNotFound is returned when a run record does not exist
var ErrRunNotFound = errors.New("run not found")

// RunFilter narrows List and Count. Zero fields match everything.
type RunFilter struct {
	Variant    model.Variant
	ManualStop *bool
	Running    *bool
}

// RunHistory stores one record per spawned worker instance
type RunHistory interface {
	// Store stores a new run record
	Store(ctx context.Context, run *model.RunRecord) error

	// Update records how a run ended
	Update(ctx context.Context, run *model.RunRecord) error

	// Get retrieves a run record by ID
	Get(ctx context.Context, id string) (*model.RunRecord, error)

	// List retrieves run records, newest first
	List(ctx context.Context, filter RunFilter, offset, limit int) ([]*model.RunRecord, error)

	// Count returns the number of records matching the filter
	Count(ctx context.Context, filter RunFilter) (int, error)

	// DeleteBefore deletes runs started before the given time
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)

	// Close releases the underlying database
	Close() error
}

// SQLiteRunHistory implements RunHistory using SQLite
type SQLiteRunHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

const runColumns = "id, pid, variant, command, started_at, stopped_at, exit_code, manual_stop, error"

// NewSQLiteRunHistory opens (or creates) the run history database at dbPath
func NewSQLiteRunHistory(logger *zap.Logger, dbPath string) (*SQLiteRunHistory, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	storage := &SQLiteRunHistory{
		logger: logger.Named("run-history"),
		db:     db,
	}

	if err := storage.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteRunHistory) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS worker_runs (
			id TEXT PRIMARY KEY,
			pid INTEGER NOT NULL,
			variant TEXT NOT NULL,
			command TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			stopped_at DATETIME,
			exit_code INTEGER,
			manual_stop BOOLEAN NOT NULL DEFAULT 0,
			error TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_worker_runs_variant ON worker_runs(variant);
		CREATE INDEX IF NOT EXISTS idx_worker_runs_started_at ON worker_runs(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Store implements RunHistory.Store
func (s *SQLiteRunHistory) Store(ctx context.Context, run *model.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_runs (
			id, pid, variant, command, started_at
		) VALUES (?, ?, ?, ?, ?)`,
		run.ID,
		run.PID,
		string(run.Variant),
		run.Command,
		run.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}
	return nil
}

// Update implements RunHistory.Update
func (s *SQLiteRunHistory) Update(ctx context.Context, run *model.RunRecord) error {
	var stoppedAt sql.NullTime
	if run.StoppedAt != nil {
		stoppedAt = sql.NullTime{Time: run.StoppedAt.UTC(), Valid: true}
	}
	var exitCode sql.NullInt64
	if run.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*run.ExitCode), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE worker_runs SET
			stopped_at = ?,
			exit_code = ?,
			manual_stop = ?,
			error = ?
		WHERE id = ?`,
		stoppedAt,
		exitCode,
		run.ManualStop,
		sql.NullString{String: run.Error, Valid: run.Error != ""},
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*model.RunRecord, error) {
	run := &model.RunRecord{}
	var variant string
	var stoppedAt sql.NullTime
	var exitCode sql.NullInt64
	var errorStr sql.NullString

	if err := row.Scan(
		&run.ID,
		&run.PID,
		&variant,
		&run.Command,
		&run.StartedAt,
		&stoppedAt,
		&exitCode,
		&run.ManualStop,
		&errorStr,
	); err != nil {
		return nil, err
	}

	run.Variant = model.Variant(variant)
	if stoppedAt.Valid {
		t := stoppedAt.Time
		run.StoppedAt = &t
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	if errorStr.Valid {
		run.Error = errorStr.String
	}
	return run, nil
}

// Get implements RunHistory.Get
func (s *SQLiteRunHistory) Get(ctx context.Context, id string) (*model.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM worker_runs WHERE id = ?", id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return run, nil
}

// where renders the filter as a WHERE clause
func (f RunFilter) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if f.Variant != "" {
		clauses = append(clauses, "variant = ?")
		args = append(args, string(f.Variant))
	}
	if f.ManualStop != nil {
		clauses = append(clauses, "manual_stop = ?")
		args = append(args, *f.ManualStop)
	}
	if f.Running != nil {
		if *f.Running {
			clauses = append(clauses, "stopped_at IS NULL")
		} else {
			clauses = append(clauses, "stopped_at IS NOT NULL")
		}
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List implements RunHistory.List
func (s *SQLiteRunHistory) List(ctx context.Context, filter RunFilter, offset, limit int) ([]*model.RunRecord, error) {
	where, args := filter.where()
	query := "SELECT " + runColumns + " FROM worker_runs" + where + " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return runs, nil
}

// Count implements RunHistory.Count
func (s *SQLiteRunHistory) Count(ctx context.Context, filter RunFilter) (int, error) {
	where, args := filter.where()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM worker_runs"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// DeleteBefore implements RunHistory.DeleteBefore
func (s *SQLiteRunHistory) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM worker_runs WHERE started_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Debug("Deleted old run records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

// Close closes the database connection
func (s *SQLiteRunHistory) Close() error {
	return s.db.Close()
}
