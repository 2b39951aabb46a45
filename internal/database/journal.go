// Package database stores the operation journal in SQLite.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"fg-go/internal/config"
	"fg-go/internal/database/migrations"
	"fg-go/internal/fg"
)

// FileName is the journal database file inside database.data_dir.
const FileName = "fg.db"

// SQLiteJournal implements fg.Journal.
type SQLiteJournal struct {
	db   *sql.DB
	path string
}

var _ fg.Journal = (*SQLiteJournal)(nil)

// NewJournalFromConfig opens the journal selected by cfg.Type.
func NewJournalFromConfig(cfg config.DatabaseConfig) (*SQLiteJournal, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteJournal(filepath.Join(cfg.DataDir, FileName))
	case "memory":
		return NewSQLiteJournal(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// NewSQLiteJournal opens path (a file or ":memory:") and migrates it to the latest schema.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteJournal{db: db, path: path}, nil
}

// OpenConnection opens a SQLite database with the PRAGMAs the journal relies on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

// Path returns the database location.
func (j *SQLiteJournal) Path() string {
	return j.path
}

// Begin inserts a running operation and returns its id.
func (j *SQLiteJournal) Begin(targetID string, kind fg.OperationKind, startedAt time.Time) (int64, error) {
	res, err := j.db.Exec(
		"INSERT INTO operations (target_id, kind, status, started_at) VALUES (?, ?, ?, ?)",
		targetID, string(kind), string(fg.OpRunning), startedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading operation id: %w", err)
	}
	return id, nil
}

// Finish records the outcome of operation id.
func (j *SQLiteJournal) Finish(id int64, status fg.OperationStatus, errMsg string, finishedAt time.Time) error {
	res, err := j.db.Exec(
		"UPDATE operations SET status = ?, error = ?, finished_at = ? WHERE id = ?",
		string(status), errMsg, finishedAt.UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("updating operation %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("updating operation %d: %w", id, sql.ErrNoRows)
	}
	return nil
}

// List returns up to limit operations, newest first. limit <= 0 returns all.
func (j *SQLiteJournal) List(limit int) ([]*fg.Operation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.Query(
		`SELECT id, target_id, kind, status, started_at, finished_at, error
		 FROM operations ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*fg.Operation
	for rows.Next() {
		var (
			op       fg.Operation
			kind     string
			status   string
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&op.ID, &op.TargetID, &kind, &status, &started, &finished, &op.Error); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		op.Kind = fg.OperationKind(kind)
		op.Status = fg.OperationStatus(status)
		op.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			t := time.UnixMilli(finished.Int64).UTC()
			op.FinishedAt = &t
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// AbandonRunning marks operations still running from a previous process as failed.
// It returns how many were closed.
func (j *SQLiteJournal) AbandonRunning(at time.Time) (int64, error) {
	res, err := j.db.Exec(
		"UPDATE operations SET status = ?, error = ?, finished_at = ? WHERE status = ?",
		string(fg.OpFailed), "interrupted", at.UnixMilli(), string(fg.OpRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("closing interrupted operations: %w", err)
	}
	return res.RowsAffected()
}

// PruneBefore deletes finished operations that started before cutoff.
func (j *SQLiteJournal) PruneBefore(cutoff time.Time) (int64, error) {
	res, err := j.db.Exec(
		"DELETE FROM operations WHERE started_at < ? AND status != ?",
		cutoff.UnixMilli(), string(fg.OpRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning operations: %w", err)
	}
	return res.RowsAffected()
}

// CheckMigrations verifies the schema is at the version this binary expects.
func (j *SQLiteJournal) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(j.db)
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}
