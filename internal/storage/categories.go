package storage

import (
	"context"

	"github.com/houfu/lavender-ledger/internal/core"
)

const listCategories = `-- name: ListCategories :many
SELECT id, name, kind, source FROM categories ORDER BY id
`

func (q *Queries) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := q.db.QueryContext(ctx, listCategories)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Kind, &c.Source); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

const addCategory = `-- name: AddCategory :execrows
INSERT INTO categories (name, kind, source) VALUES (?, ?, ?)
ON CONFLICT (name) DO NOTHING
`

// AddCategory reports whether the name was new to the vocabulary.
func (q *Queries) AddCategory(ctx context.Context, name, kind, source string) (bool, error) {
	res, err := q.db.ExecContext(ctx, addCategory, name, kind, source)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const countCategories = `-- name: CountCategories :one
SELECT COUNT(*) FROM categories
`

func (q *Queries) CountCategories(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countCategories).Scan(&n)
	return n, err
}
