package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/houfu/lavender-ledger/internal/core"
)

type InsertStatementParams struct {
	AccountID        int64
	StatementDate    core.Date
	PeriodStart      *core.Date
	PeriodEnd        *core.Date
	SourcePath       string
	FileHash         string
	TransactionCount int
	ProcessedAt      time.Time
}

const insertStatement = `-- name: InsertStatement :one
INSERT INTO statements (account_id, statement_date, period_start, period_end, source_path, file_hash, transaction_count, processed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (file_hash, account_id) DO NOTHING
RETURNING id
`

// InsertStatement returns sql.ErrNoRows when (file_hash, account_id) already exists.
func (q *Queries) InsertStatement(ctx context.Context, arg InsertStatementParams) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, insertStatement,
		arg.AccountID,
		arg.StatementDate.String(),
		nullDate(arg.PeriodStart),
		nullDate(arg.PeriodEnd),
		arg.SourcePath,
		arg.FileHash,
		arg.TransactionCount,
		formatTime(arg.ProcessedAt),
	).Scan(&id)
	return id, err
}

const statementExists = `-- name: StatementExists :one
SELECT EXISTS (SELECT 1 FROM statements WHERE file_hash = ?)
`

func (q *Queries) StatementExists(ctx context.Context, fileHash string) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, statementExists, fileHash).Scan(&exists)
	return exists, err
}

const statementExistsForAccount = `-- name: StatementExistsForAccount :one
SELECT EXISTS (SELECT 1 FROM statements WHERE file_hash = ? AND account_id = ?)
`

func (q *Queries) StatementExistsForAccount(ctx context.Context, fileHash string, accountID int64) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, statementExistsForAccount, fileHash, accountID).Scan(&exists)
	return exists, err
}

const statementColumns = `id, account_id, statement_date, period_start, period_end, source_path, file_hash, transaction_count, processed_at`

func scanStatement(row interface{ Scan(...any) error }) (core.Statement, error) {
	var (
		s                 core.Statement
		date, processedAt string
		periodStart, pEnd sql.NullString
		err               error
	)
	if err = row.Scan(&s.ID, &s.AccountID, &date, &periodStart, &pEnd, &s.SourcePath, &s.Fingerprint, &s.TransactionCount, &processedAt); err != nil {
		return core.Statement{}, err
	}
	if s.StatementDate, err = parseDate(date); err != nil {
		return core.Statement{}, err
	}
	if s.PeriodStart, err = parseNullDate(periodStart); err != nil {
		return core.Statement{}, err
	}
	if s.PeriodEnd, err = parseNullDate(pEnd); err != nil {
		return core.Statement{}, err
	}
	if s.ProcessedAt, err = parseTime(processedAt); err != nil {
		return core.Statement{}, err
	}
	return s, nil
}

const getStatement = `-- name: GetStatement :one
SELECT ` + statementColumns + ` FROM statements WHERE id = ?
`

func (q *Queries) GetStatement(ctx context.Context, id int64) (core.Statement, error) {
	s, err := scanStatement(q.db.QueryRowContext(ctx, getStatement, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Statement{}, fmt.Errorf("statement %d: %w", id, core.ErrNotFound)
	}
	return s, err
}

const listStatementsByHash = `-- name: ListStatementsByHash :many
SELECT ` + statementColumns + ` FROM statements WHERE file_hash = ? ORDER BY id
`

func (q *Queries) ListStatementsByHash(ctx context.Context, fileHash string) ([]core.Statement, error) {
	rows, err := q.db.QueryContext(ctx, listStatementsByHash, fileHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []core.Statement
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const listStatementsByAccount = `-- name: ListStatementsByAccount :many
SELECT ` + statementColumns + ` FROM statements WHERE account_id = ? ORDER BY statement_date, id
`

func (q *Queries) ListStatementsByAccount(ctx context.Context, accountID int64) ([]core.Statement, error) {
	rows, err := q.db.QueryContext(ctx, listStatementsByAccount, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []core.Statement
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
