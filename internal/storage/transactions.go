package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/houfu/lavender-ledger/internal/core"
)

type InsertTransactionParams struct {
	StatementID *int64
	AccountID   int64
	Record      core.ValidRecord
	Now         time.Time
}

const insertTransaction = `-- name: InsertTransaction :execrows
INSERT INTO transactions (
    statement_id, account_id, transaction_date, post_date, amount, kind,
    merchant_original, merchant_normalized, description, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (account_id, transaction_date, amount, merchant_original) DO NOTHING
`

// InsertTransaction inserts a row unless its uniqueness key is taken and
// reports whether it did. An existing row is never modified.
func (q *Queries) InsertTransaction(ctx context.Context, arg InsertTransactionParams) (bool, error) {
	r := arg.Record
	now := formatTime(arg.Now)
	res, err := q.db.ExecContext(ctx, insertTransaction,
		nullInt64(arg.StatementID),
		arg.AccountID,
		r.Date.String(),
		nullDate(r.PostDate),
		core.AmountKey(r.Amount),
		string(r.Kind),
		r.MerchantOriginal,
		r.MerchantNormalized,
		r.Description,
		now,
		now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const transactionColumns = `t.id, t.statement_id, t.account_id, a.account_type, t.transaction_date, t.post_date,
    t.amount, t.kind, t.merchant_original, t.merchant_normalized, t.description,
    t.category, t.confidence, t.flagged, t.notes, t.rule_id, t.created_at, t.updated_at`

const transactionFrom = ` FROM transactions t JOIN accounts a ON a.id = t.account_id`

func scanTransaction(row interface{ Scan(...any) error }) (core.Transaction, error) {
	var (
		t                    core.Transaction
		statementID, ruleID  sql.NullInt64
		accountType, kind    string
		date, amount         string
		postDate, category   sql.NullString
		confidence           sql.NullFloat64
		flagged              int64
		createdAt, updatedAt string
		err                  error
	)
	if err = row.Scan(&t.ID, &statementID, &t.AccountID, &accountType, &date, &postDate,
		&amount, &kind, &t.MerchantOriginal, &t.MerchantNormalized, &t.Description,
		&category, &confidence, &flagged, &t.Notes, &ruleID, &createdAt, &updatedAt); err != nil {
		return core.Transaction{}, err
	}
	t.StatementID = int64Ptr(statementID)
	t.RuleID = int64Ptr(ruleID)
	t.AccountType = core.AccountType(accountType)
	t.Kind = core.TransactionKind(kind)
	t.Category = stringPtr(category)
	t.Confidence = float64Ptr(confidence)
	t.Flagged = flagged == 1
	if t.Date, err = parseDate(date); err != nil {
		return core.Transaction{}, err
	}
	if t.PostDate, err = parseNullDate(postDate); err != nil {
		return core.Transaction{}, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.Transaction{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Transaction{}, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

func collectTransactions(rows *sql.Rows) ([]core.Transaction, error) {
	defer rows.Close()
	var items []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const getTransaction = `-- name: GetTransaction :one
SELECT ` + transactionColumns + transactionFrom + ` WHERE t.id = ?
`

func (q *Queries) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRowContext(ctx, getTransaction, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	return t, err
}

const getTransactionByKey = `-- name: GetTransactionByKey :one
SELECT ` + transactionColumns + transactionFrom + `
WHERE t.account_id = ? AND t.transaction_date = ? AND t.amount = ? AND t.merchant_original = ?
`

func (q *Queries) GetTransactionByKey(ctx context.Context, accountID int64, date core.Date, amount decimal.Decimal, merchant string) (core.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRowContext(ctx, getTransactionByKey, accountID, date.String(), core.AmountKey(amount), merchant))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %d/%s/%s/%q: %w", accountID, date, core.AmountKey(amount), merchant, core.ErrNotFound)
	}
	return t, err
}

const listUncategorizedPage = `-- name: ListUncategorizedPage :many
SELECT ` + transactionColumns + transactionFrom + `
WHERE (t.category IS NULL OR t.category = 'Uncategorized') AND t.id > ?
ORDER BY t.id
LIMIT ?
`

// ListUncategorizedPage pages forward by id.
func (q *Queries) ListUncategorizedPage(ctx context.Context, afterID int64, limit int) ([]core.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, listUncategorizedPage, afterID, limit)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

const listFlaggedPage = `-- name: ListFlaggedPage :many
SELECT ` + transactionColumns + transactionFrom + `
WHERE t.flagged = 1
  AND (? = '' OR t.transaction_date < ? OR (t.transaction_date = ? AND t.id < ?))
ORDER BY t.transaction_date DESC, t.id DESC
LIMIT ?
`

// ListFlaggedPage pages backwards by (date, id). An empty afterDate starts
// from the newest row.
func (q *Queries) ListFlaggedPage(ctx context.Context, afterDate string, afterID int64, limit int) ([]core.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, listFlaggedPage, afterDate, afterDate, afterDate, afterID, limit)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

type UpdateCategorizationParams struct {
	ID         int64
	Category   string
	Confidence float64
	Flagged    bool
	RuleID     *int64
	Now        time.Time
}

const updateCategorization = `-- name: UpdateCategorization :execrows
UPDATE transactions
SET category = ?, confidence = ?, flagged = ?, rule_id = ?, updated_at = ?
WHERE id = ?
`

func (q *Queries) UpdateCategorization(ctx context.Context, arg UpdateCategorizationParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateCategorization,
		arg.Category, arg.Confidence, boolToInt(arg.Flagged), nullInt64(arg.RuleID), formatTime(arg.Now), arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const setFlagged = `-- name: SetFlagged :execrows
UPDATE transactions SET flagged = ?, updated_at = ? WHERE id = ?
`

func (q *Queries) SetFlagged(ctx context.Context, id int64, flagged bool, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, setFlagged, boolToInt(flagged), formatTime(now), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const recategorizeTransaction = `-- name: RecategorizeTransaction :execrows
UPDATE transactions
SET category = ?, confidence = 1.0, flagged = 0, rule_id = NULL, updated_at = ?
WHERE id = ?
`

func (q *Queries) RecategorizeTransaction(ctx context.Context, id int64, category string, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, recategorizeTransaction, category, formatTime(now), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const appendTransactionNote = `-- name: AppendTransactionNote :exec
UPDATE transactions
SET notes = CASE WHEN notes = '' THEN ? ELSE notes || char(10) || ? END, updated_at = ?
WHERE id = ?
`

func (q *Queries) AppendTransactionNote(ctx context.Context, id int64, note string, now time.Time) error {
	_, err := q.db.ExecContext(ctx, appendTransactionNote, note, note, formatTime(now), id)
	return err
}

const countTransactions = `-- name: CountTransactions :one
SELECT COUNT(*) FROM transactions WHERE account_id = ?
`

func (q *Queries) CountTransactions(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countTransactions, accountID).Scan(&n)
	return n, err
}
