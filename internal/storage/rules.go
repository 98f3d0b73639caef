package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/houfu/lavender-ledger/internal/core"
)

const ruleColumns = `id, merchant_pattern, category, confidence, rule_type, min_amount, max_amount, account_type,
    times_applied, times_rejected, accuracy_score, user_confirmed, auto_created, last_used, notes, created_at`

func scanRule(row interface{ Scan(...any) error }) (core.Rule, error) {
	var (
		r                      core.Rule
		kind, createdAt        string
		minAmount, maxAmount   sql.NullString
		accountType, lastUsed  sql.NullString
		accuracy               sql.NullFloat64
		confirmed, autoCreated int64
		err                    error
	)
	if err = row.Scan(&r.ID, &r.Pattern, &r.Category, &r.Confidence, &kind, &minAmount, &maxAmount, &accountType,
		&r.TimesApplied, &r.TimesRejected, &accuracy, &confirmed, &autoCreated, &lastUsed, &r.Notes, &createdAt); err != nil {
		return core.Rule{}, err
	}
	r.Kind = core.RuleKind(kind)
	r.Accuracy = float64Ptr(accuracy)
	r.UserConfirmed = confirmed == 1
	r.AutoCreated = autoCreated == 1
	if accountType.Valid && accountType.String != "" {
		at := core.AccountType(accountType.String)
		r.AccountType = &at
	}
	if r.MinAmount, err = parseNullDecimal(minAmount); err != nil {
		return core.Rule{}, err
	}
	if r.MaxAmount, err = parseNullDecimal(maxAmount); err != nil {
		return core.Rule{}, err
	}
	if r.LastUsed, err = parseNullTime(lastUsed); err != nil {
		return core.Rule{}, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Rule{}, err
	}
	return r, nil
}

func nullAccountType(t *core.AccountType) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*t), Valid: true}
}

const insertRuleIfAbsent = `-- name: InsertRuleIfAbsent :execrows
INSERT INTO categorization_rules (
    merchant_pattern, category, confidence, rule_type, min_amount, max_amount, account_type,
    user_confirmed, auto_created, notes, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (merchant_pattern) DO NOTHING
`

// InsertRuleIfAbsent reports whether the pattern was new.
func (q *Queries) InsertRuleIfAbsent(ctx context.Context, r core.Rule, now time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx, insertRuleIfAbsent,
		r.Pattern, r.Category, r.Confidence, string(r.Kind),
		nullDecimal(r.MinAmount), nullDecimal(r.MaxAmount), nullAccountType(r.AccountType),
		boolToInt(r.UserConfirmed), boolToInt(r.AutoCreated), r.Notes, formatTime(now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const mergeConfirmedRule = `-- name: MergeConfirmedRule :exec
UPDATE categorization_rules
SET category       = ?,
    confidence     = MAX(confidence, ?),
    rule_type      = CASE WHEN ? = 'conditional' THEN 'conditional' ELSE rule_type END,
    min_amount     = COALESCE(?, min_amount),
    max_amount     = COALESCE(?, max_amount),
    account_type   = COALESCE(?, account_type),
    user_confirmed = 1,
    notes          = CASE WHEN ? = '' THEN notes ELSE ? END
WHERE merchant_pattern = ?
`

// MergeConfirmedRule folds a human decision into an existing pattern.
func (q *Queries) MergeConfirmedRule(ctx context.Context, r core.Rule) error {
	_, err := q.db.ExecContext(ctx, mergeConfirmedRule,
		r.Category, r.Confidence, string(r.Kind),
		nullDecimal(r.MinAmount), nullDecimal(r.MaxAmount), nullAccountType(r.AccountType),
		r.Notes, r.Notes, r.Pattern)
	return err
}

const getRule = `-- name: GetRule :one
SELECT ` + ruleColumns + ` FROM categorization_rules WHERE id = ?
`

func (q *Queries) GetRule(ctx context.Context, id int64) (core.Rule, error) {
	r, err := scanRule(q.db.QueryRowContext(ctx, getRule, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Rule{}, fmt.Errorf("rule %d: %w", id, core.ErrNotFound)
	}
	return r, err
}

const getRuleByPattern = `-- name: GetRuleByPattern :one
SELECT ` + ruleColumns + ` FROM categorization_rules WHERE merchant_pattern = ?
`

func (q *Queries) GetRuleByPattern(ctx context.Context, pattern string) (core.Rule, error) {
	r, err := scanRule(q.db.QueryRowContext(ctx, getRuleByPattern, pattern))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Rule{}, fmt.Errorf("rule %q: %w", pattern, core.ErrNotFound)
	}
	return r, err
}

const listRules = `-- name: ListRules :many
SELECT ` + ruleColumns + ` FROM categorization_rules ORDER BY id
`

func (q *Queries) ListRules(ctx context.Context) ([]core.Rule, error) {
	rows, err := q.db.QueryContext(ctx, listRules)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []core.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const markRuleUsed = `-- name: MarkRuleUsed :execrows
UPDATE categorization_rules
SET times_applied  = times_applied + 1,
    accuracy_score = CASE
        WHEN accuracy_score IS NULL THEN NULL
        ELSE MAX(0.0, CAST((times_applied + 1) - times_rejected AS REAL) / (times_applied + 1))
    END,
    last_used      = ?
WHERE id = ?
`

func (q *Queries) MarkRuleUsed(ctx context.Context, id int64, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, markRuleUsed, formatTime(now), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// The right-hand sides of an UPDATE see the row as it was before the
// statement, so counters and accuracy move together in one write.

const confirmRule = `-- name: ConfirmRule :execrows
UPDATE categorization_rules
SET times_applied  = times_applied + 1,
    accuracy_score = MAX(0.0, CAST((times_applied + 1) - times_rejected AS REAL) / (times_applied + 1)),
    last_used      = ?
WHERE id = ?
`

func (q *Queries) ConfirmRule(ctx context.Context, id int64, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, confirmRule, formatTime(now), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const rejectRule = `-- name: RejectRule :execrows
UPDATE categorization_rules
SET times_rejected = times_rejected + 1,
    accuracy_score = CASE
        WHEN times_applied > 0 THEN MAX(0.0, CAST(times_applied - (times_rejected + 1) AS REAL) / times_applied)
        ELSE 0.0
    END
WHERE id = ?
`

func (q *Queries) RejectRule(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, rejectRule, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
