package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/houfu/lavender-ledger/internal/core"
)

const createRun = `-- name: CreateRun :one
INSERT INTO ingestion_runs (started_at, status) VALUES (?, 'running') RETURNING id
`

func (q *Queries) CreateRun(ctx context.Context, startedAt time.Time) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, createRun, formatTime(startedAt)).Scan(&id)
	return id, err
}

type FinalizeRunParams struct {
	ID          int64
	Status      core.RunStatus
	CompletedAt time.Time
	Counts      core.RunCounts
	Errors      []string
	Summary     string
}

const finalizeRun = `-- name: FinalizeRun :execrows
UPDATE ingestion_runs
SET status = ?, completed_at = ?,
    files_processed = ?, transactions_added = ?, transactions_updated = ?, duplicates = ?,
    rejected = ?, flagged = ?, categorized_by_rule = ?, categorized_by_classifier = ?,
    errors = ?, summary = ?
WHERE id = ? AND status = 'running'
`

// FinalizeRun moves a running run to a terminal status. It affects zero rows
// when the run was already finalized.
func (q *Queries) FinalizeRun(ctx context.Context, arg FinalizeRunParams) (int64, error) {
	errs := arg.Errors
	if errs == nil {
		errs = []string{}
	}
	errJSON, err := json.Marshal(errs)
	if err != nil {
		return 0, fmt.Errorf("marshal run errors: %w", err)
	}
	c := arg.Counts
	res, err := q.db.ExecContext(ctx, finalizeRun,
		string(arg.Status), formatTime(arg.CompletedAt),
		c.FilesProcessed, c.TransactionsAdded, c.TransactionsUpdated, c.Duplicates,
		c.Rejected, c.Flagged, c.CategorizedByRule, c.CategorizedByClassifier,
		string(errJSON), arg.Summary, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const runColumns = `id, started_at, completed_at, status, files_processed, transactions_added, transactions_updated,
    duplicates, rejected, flagged, categorized_by_rule, categorized_by_classifier, errors, summary`

func scanRun(row interface{ Scan(...any) error }) (core.IngestionRun, error) {
	var (
		r                 core.IngestionRun
		startedAt, status string
		completedAt       sql.NullString
		errJSON           string
		err               error
	)
	if err = row.Scan(&r.ID, &startedAt, &completedAt, &status, &r.FilesProcessed, &r.TransactionsAdded,
		&r.TransactionsUpdated, &r.Duplicates, &r.Rejected, &r.Flagged, &r.CategorizedByRule,
		&r.CategorizedByClassifier, &errJSON, &r.Summary); err != nil {
		return core.IngestionRun{}, err
	}
	r.Status = core.RunStatus(status)
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return core.IngestionRun{}, err
	}
	if r.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return core.IngestionRun{}, err
	}
	if err = json.Unmarshal([]byte(errJSON), &r.Errors); err != nil {
		return core.IngestionRun{}, fmt.Errorf("unmarshal run errors: %w", err)
	}
	return r, nil
}

const getRun = `-- name: GetRun :one
SELECT ` + runColumns + ` FROM ingestion_runs WHERE id = ?
`

func (q *Queries) GetRun(ctx context.Context, id int64) (core.IngestionRun, error) {
	r, err := scanRun(q.db.QueryRowContext(ctx, getRun, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.IngestionRun{}, fmt.Errorf("run %d: %w", id, core.ErrNotFound)
	}
	return r, err
}

const listRuns = `-- name: ListRuns :many
SELECT ` + runColumns + ` FROM ingestion_runs ORDER BY id DESC LIMIT ?
`

func (q *Queries) ListRuns(ctx context.Context, limit int) ([]core.IngestionRun, error) {
	rows, err := q.db.QueryContext(ctx, listRuns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []core.IngestionRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// FileStatus is the per-file audit row of a run.
type FileStatus struct {
	ID          int64
	RunID       int64
	SourcePath  string
	FileHash    string
	AccountID   *int64
	StatementID *int64
	Status      string
	Inserted    int
	Duplicates  int
	Rejected    int
	Error       string
	ProcessedAt time.Time
}

const (
	FileInserted  = "inserted"
	FileDuplicate = "duplicate"
	FileFailed    = "failed"
)

const insertFileStatus = `-- name: InsertFileStatus :exec
INSERT INTO ingestion_files (run_id, source_path, file_hash, account_id, statement_id, status, inserted, duplicates, rejected, error, processed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) InsertFileStatus(ctx context.Context, f FileStatus) error {
	_, err := q.db.ExecContext(ctx, insertFileStatus,
		f.RunID, f.SourcePath, f.FileHash, nullInt64(f.AccountID), nullInt64(f.StatementID),
		f.Status, f.Inserted, f.Duplicates, f.Rejected, f.Error, formatTime(f.ProcessedAt))
	return err
}

const listFileStatuses = `-- name: ListFileStatuses :many
SELECT id, run_id, source_path, file_hash, account_id, statement_id, status, inserted, duplicates, rejected, error, processed_at
FROM ingestion_files WHERE run_id = ? ORDER BY id
`

func (q *Queries) ListFileStatuses(ctx context.Context, runID int64) ([]FileStatus, error) {
	rows, err := q.db.QueryContext(ctx, listFileStatuses, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []FileStatus
	for rows.Next() {
		var (
			f                      FileStatus
			accountID, statementID sql.NullInt64
			processedAt            string
		)
		if err := rows.Scan(&f.ID, &f.RunID, &f.SourcePath, &f.FileHash, &accountID, &statementID,
			&f.Status, &f.Inserted, &f.Duplicates, &f.Rejected, &f.Error, &processedAt); err != nil {
			return nil, err
		}
		f.AccountID = int64Ptr(accountID)
		f.StatementID = int64Ptr(statementID)
		if f.ProcessedAt, err = parseTime(processedAt); err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}
