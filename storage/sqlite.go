// Package storage provides SQLite persistence for summarize run diagnostics.
//
// Information Hiding:
// - SQLite connection management hidden behind RunStore
// - Schema details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// RunStatus classifies how a summarize run ended.
type RunStatus string

const (
	// StatusOK is a run that produced a summary.
	StatusOK RunStatus = "ok"
	// StatusMapFailed is a run aborted by a per-chunk call failure.
	StatusMapFailed RunStatus = "map_failed"
	// StatusReduceFailed is a run aborted by the final call failure.
	StatusReduceFailed RunStatus = "reduce_failed"
	// StatusDegraded is a gateway request that fell back to raw results
	// after the summarize step failed.
	StatusDegraded RunStatus = "degraded"
)

// ParseRunStatus converts a stored status string back into a RunStatus.
func ParseRunStatus(s string) (RunStatus, error) {
	switch RunStatus(s) {
	case StatusOK, StatusMapFailed, StatusReduceFailed, StatusDegraded:
		return RunStatus(s), nil
	default:
		return "", fmt.Errorf("unknown run status: %q", s)
	}
}

// RunRecord is one summarize run's diagnostics. QuestionHash is the hex
// SHA-256 of the user question; the question text itself is never stored.
type RunRecord struct {
	RunID            string    `json:"run_id"`
	QuestionHash     string    `json:"question_hash"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Mode             string    `json:"mode"`
	Status           RunStatus `json:"status"`
	ChunkCount       int       `json:"chunk_count"`
	LLMCalls         int       `json:"llm_calls"`
	PromptTokens     uint32    `json:"prompt_tokens"`
	CompletionTokens uint32    `json:"completion_tokens"`
	TotalTokens      uint32    `json:"total_tokens"`
	DurationMs       int64     `json:"duration_ms"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        int64     `json:"created_at"`
}

// RunTotals aggregates recorded runs.
type RunTotals struct {
	Runs            int   `json:"runs"`
	Completed       int   `json:"completed"`
	Degraded        int   `json:"degraded"`
	Failed          int   `json:"failed"`
	TotalChunks     int64 `json:"total_chunks"`
	TotalLLMCalls   int64 `json:"total_llm_calls"`
	TotalTokens     int64 `json:"total_tokens"`
	TotalDurationMs int64 `json:"total_duration_ms"`
}

// HashQuestion returns the hex SHA-256 of a user question, the only form
// in which questions enter the run log.
func HashQuestion(question string) string {
	sum := sha256.Sum256([]byte(question))
	return hex.EncodeToString(sum[:])
}

// RunStore records summarize runs in a SQLite database.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type RunStore struct {
	db *sql.DB
}

// OpenRunStore opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenRunStore(path string) (*RunStore, error) {
	// Create parent directory if needed
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	store := &RunStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewRunStoreInMemory creates an in-memory run store (useful for testing).
func NewRunStoreInMemory() (*RunStore, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}

	store := &RunStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *RunStore) Close() error {
	return s.db.Close()
}

func (s *RunStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			question_hash TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			chunk_count INTEGER NOT NULL,
			llm_calls INTEGER NOT NULL,
			prompt_tokens INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			total_tokens INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			error TEXT,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_runs_created
		ON runs(created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_runs_status
		ON runs(status, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record inserts one run. A zero CreatedAt defaults to the current time.
func (s *RunStore) Record(ctx context.Context, rec RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if _, err := ParseRunStatus(string(rec.Status)); err != nil {
		return err
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}

	// Convert empty error text to NULL
	var errText interface{}
	if rec.Error != "" {
		errText = rec.Error
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
		(run_id, question_hash, provider, model, mode, status, chunk_count, llm_calls,
		 prompt_tokens, completion_tokens, total_tokens, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.QuestionHash,
		rec.Provider,
		rec.Model,
		rec.Mode,
		string(rec.Status),
		rec.ChunkCount,
		rec.LLMCalls,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.TotalTokens,
		rec.DurationMs,
		errText,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

const runColumns = `run_id, question_hash, provider, model, mode, status, chunk_count,
	llm_calls, prompt_tokens, completion_tokens, total_tokens, duration_ms, error, created_at`

// Recent returns the most recent runs, newest first.
func (s *RunStore) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY created_at DESC, run_id LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	records := []RunRecord{} // Start with empty slice, not nil
	for rows.Next() {
		rec, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return records, nil
}

// Get returns one run by id. Returns nil, nil if not found.
func (s *RunStore) Get(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE run_id = ?", runID)

	rec, err := scanRunRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Totals aggregates run counts and token usage across the whole log.
func (s *RunStore) Totals(ctx context.Context) (RunTotals, error) {
	var t RunTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'ok' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'degraded' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('map_failed', 'reduce_failed') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(chunk_count), 0),
			COALESCE(SUM(llm_calls), 0),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(duration_ms), 0)
		FROM runs`).Scan(
		&t.Runs,
		&t.Completed,
		&t.Degraded,
		&t.Failed,
		&t.TotalChunks,
		&t.TotalLLMCalls,
		&t.TotalTokens,
		&t.TotalDurationMs,
	)
	if err != nil {
		return RunTotals{}, fmt.Errorf("failed to aggregate runs: %w", err)
	}
	return t, nil
}

// rowScanner covers both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRunRow(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	var status string
	var errText sql.NullString

	err := row.Scan(
		&rec.RunID,
		&rec.QuestionHash,
		&rec.Provider,
		&rec.Model,
		&rec.Mode,
		&status,
		&rec.ChunkCount,
		&rec.LLMCalls,
		&rec.PromptTokens,
		&rec.CompletionTokens,
		&rec.TotalTokens,
		&rec.DurationMs,
		&errText,
		&rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return RunRecord{}, err
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to scan run: %w", err)
	}

	if errText.Valid {
		rec.Error = errText.String
	}

	parsed, err := ParseRunStatus(status)
	if err != nil {
		// Invalid status in database indicates data corruption or schema mismatch.
		// Return error rather than silently defaulting.
		return RunRecord{}, fmt.Errorf("invalid run status %q in database: %w", status, err)
	}
	rec.Status = parsed

	return rec, nil
}
