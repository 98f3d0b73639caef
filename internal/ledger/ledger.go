// Package ledger owns transaction-level identity and the mutable
// categorization state of each transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/houfu/lavender-ledger/internal/core"
	"github.com/houfu/lavender-ledger/internal/storage"
)

const defaultPageSize = 200

// Writer is the mutating side, satisfied by *storage.Queries.
type Writer interface {
	InsertTransaction(ctx context.Context, arg storage.InsertTransactionParams) (bool, error)
	UpdateCategorization(ctx context.Context, arg storage.UpdateCategorizationParams) (int64, error)
	SetFlagged(ctx context.Context, id int64, flagged bool, now time.Time) (int64, error)
}

// Reader backs the lazy listings.
type Reader interface {
	ListUncategorizedPage(ctx context.Context, afterID int64, limit int) ([]core.Transaction, error)
	ListFlaggedPage(ctx context.Context, afterDate string, afterID int64, limit int) ([]core.Transaction, error)
}

// BatchResult counts what InsertBatch did. Rejected records were malformed
// and skipped individually.
type BatchResult struct {
	Inserted   int
	Duplicates int
	Rejected   []*core.ValidationError
}

// Categorization is one category assignment. A non-nil FlaggedOverride
// replaces the threshold decision.
type Categorization struct {
	TransactionID   int64
	Category        string
	Confidence      float64
	FlaggedOverride *bool
	RuleID          *int64
}

type Ledger struct {
	reader   Reader
	policy   core.Policy
	pageSize int
	now      func() time.Time
}

func New(reader Reader, policy core.Policy) *Ledger {
	return &Ledger{
		reader:   reader,
		policy:   policy,
		pageSize: defaultPageSize,
		now:      time.Now,
	}
}

// InsertBatch inserts each valid record unless its (account, date, amount,
// raw merchant) key already exists. Existing rows are left untouched so that
// reviewed state survives re-ingestion.
func (l *Ledger) InsertBatch(ctx context.Context, w Writer, statementID *int64, accountID int64, records []core.Record) (BatchResult, error) {
	var res BatchResult
	now := l.now()

	for i, rec := range records {
		valid, verr := rec.Validate(i)
		if verr != nil {
			slog.WarnContext(ctx, "Rejected malformed record",
				"account_id", accountID,
				"index", i,
				"field", verr.Field,
				"error", verr.Err)
			res.Rejected = append(res.Rejected, verr)
			continue
		}

		inserted, err := w.InsertTransaction(ctx, storage.InsertTransactionParams{
			StatementID: statementID,
			AccountID:   accountID,
			Record:      valid,
			Now:         now,
		})
		if err != nil {
			return res, core.NewStorageError("insert transaction", err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Duplicates++
			slog.DebugContext(ctx, "Duplicate transaction skipped",
				"account_id", accountID,
				"key", valid.Key())
		}
	}

	return res, nil
}

// ApplyCategorization stores a category and reports whether the transaction
// ended up flagged for review.
func (l *Ledger) ApplyCategorization(ctx context.Context, w Writer, c Categorization) (bool, error) {
	category := strings.TrimSpace(c.Category)
	if category == "" {
		return false, core.ErrEmptyCategory
	}
	confidence := core.ClampConfidence(c.Confidence)
	flagged := l.policy.NeedsReview(confidence)
	if c.FlaggedOverride != nil {
		flagged = *c.FlaggedOverride
	}

	n, err := w.UpdateCategorization(ctx, storage.UpdateCategorizationParams{
		ID:         c.TransactionID,
		Category:   category,
		Confidence: confidence,
		Flagged:    flagged,
		RuleID:     c.RuleID,
		Now:        l.now(),
	})
	if err != nil {
		return false, core.NewStorageError("update categorization", err)
	}
	if n == 0 {
		return false, fmt.Errorf("transaction %d: %w", c.TransactionID, core.ErrNotFound)
	}
	return flagged, nil
}

// SetFlagged changes only the review flag. Category and confidence stay as
// they are, unset included.
func (l *Ledger) SetFlagged(ctx context.Context, w Writer, id int64, flagged bool) error {
	n, err := w.SetFlagged(ctx, id, flagged, l.now())
	if err != nil {
		return core.NewStorageError("set flagged", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// ListUncategorized yields transactions without a category. Each range
// starts over from the first row; nothing is mutated.
func (l *Ledger) ListUncategorized(ctx context.Context) iter.Seq2[core.Transaction, error] {
	return func(yield func(core.Transaction, error) bool) {
		var after int64
		for {
			page, err := l.reader.ListUncategorizedPage(ctx, after, l.pageSize)
			if err != nil {
				yield(core.Transaction{}, core.NewStorageError("list uncategorized", err))
				return
			}
			for _, t := range page {
				if !yield(t, nil) {
					return
				}
				after = t.ID
			}
			if len(page) < l.pageSize {
				return
			}
		}
	}
}

// ListFlagged yields transactions awaiting review, newest first.
func (l *Ledger) ListFlagged(ctx context.Context) iter.Seq2[core.Transaction, error] {
	return func(yield func(core.Transaction, error) bool) {
		var (
			afterDate string
			afterID   int64
		)
		for {
			page, err := l.reader.ListFlaggedPage(ctx, afterDate, afterID, l.pageSize)
			if err != nil {
				yield(core.Transaction{}, core.NewStorageError("list flagged", err))
				return
			}
			for _, t := range page {
				if !yield(t, nil) {
					return
				}
				afterDate, afterID = t.Date.String(), t.ID
			}
			if len(page) < l.pageSize {
				return
			}
		}
	}
}

// Collect drains a listing, stopping at the first error.
func Collect(seq iter.Seq2[core.Transaction, error], limit int) ([]core.Transaction, error) {
	var out []core.Transaction
	for t, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// IsNotFound reports whether err means the transaction does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, core.ErrNotFound)
}
