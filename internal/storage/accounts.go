package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/houfu/lavender-ledger/internal/core"
)

const accountColumns = `id, name, account_type, institution, last_four, active, created_at`

func scanAccount(row interface{ Scan(...any) error }) (core.Account, error) {
	var (
		a         core.Account
		typ       string
		active    int64
		createdAt string
	)
	if err := row.Scan(&a.ID, &a.Name, &typ, &a.Institution, &a.LastFour, &active, &createdAt); err != nil {
		return core.Account{}, err
	}
	a.Type = core.AccountType(typ)
	a.Active = active == 1
	t, err := parseTime(createdAt)
	if err != nil {
		return core.Account{}, err
	}
	a.CreatedAt = t
	return a, nil
}

const createAccountIfAbsent = `-- name: CreateAccountIfAbsent :execrows
INSERT INTO accounts (name, account_type, institution, last_four, active, created_at)
VALUES (?, ?, ?, ?, 1, ?)
ON CONFLICT (name) DO NOTHING
`

// CreateAccountIfAbsent reports whether a row was inserted.
func (q *Queries) CreateAccountIfAbsent(ctx context.Context, d core.AccountDescriptor, now time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx, createAccountIfAbsent, d.Name, string(d.Type), d.Institution, d.LastFour, formatTime(now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const getAccountByName = `-- name: GetAccountByName :one
SELECT ` + accountColumns + ` FROM accounts WHERE name = ?
`

func (q *Queries) GetAccountByName(ctx context.Context, name string) (core.Account, error) {
	a, err := scanAccount(q.db.QueryRowContext(ctx, getAccountByName, name))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("account %q: %w", name, core.ErrNotFound)
	}
	return a, err
}

const getAccount = `-- name: GetAccount :one
SELECT ` + accountColumns + ` FROM accounts WHERE id = ?
`

func (q *Queries) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	a, err := scanAccount(q.db.QueryRowContext(ctx, getAccount, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("account %d: %w", id, core.ErrNotFound)
	}
	return a, err
}

const listAccounts = `-- name: ListAccounts :many
SELECT ` + accountColumns + ` FROM accounts ORDER BY name
`

func (q *Queries) ListAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := q.db.QueryContext(ctx, listAccounts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const deactivateAccount = `-- name: DeactivateAccount :exec
UPDATE accounts SET active = 0 WHERE id = ?
`

func (q *Queries) DeactivateAccount(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deactivateAccount, id)
	return err
}
