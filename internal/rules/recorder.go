package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/houfu/lavender-ledger/internal/core"
)

// Store is the rule counter surface, satisfied by *storage.Queries.
type Store interface {
	MarkRuleUsed(ctx context.Context, id int64, now time.Time) (int64, error)
	ConfirmRule(ctx context.Context, id int64, now time.Time) (int64, error)
	RejectRule(ctx context.Context, id int64) (int64, error)
}

// Recorder writes usage and feedback signals for rules. Each signal is one
// atomic UPDATE taken under the rule's own lock.
//
// The lock must be acquired before any storage transaction is opened:
// holding a rule lock while waiting for the database write lock is fine,
// the reverse can stall two writers until the busy timeout.
type Recorder struct {
	store Store
	locks *KeyedMutex
	now   func() time.Time
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{
		store: store,
		locks: NewKeyedMutex(),
		now:   time.Now,
	}
}

// MarkUsed counts one application of the rule and stamps last_used.
func (r *Recorder) MarkUsed(ctx context.Context, ruleID int64) error {
	return r.Locked(ruleID, func() error {
		n, err := r.store.MarkRuleUsed(ctx, ruleID, r.now())
		return checkRule(ruleID, "mark rule used", n, err)
	})
}

// Confirm counts a reviewed application as correct.
func (r *Recorder) Confirm(ctx context.Context, ruleID int64) error {
	return r.Locked(ruleID, func() error {
		n, err := r.store.ConfirmRule(ctx, ruleID, r.now())
		return checkRule(ruleID, "confirm rule", n, err)
	})
}

// Reject counts a correction against the rule. Accuracy drops with it and
// may push the rule below the retirement threshold.
func (r *Recorder) Reject(ctx context.Context, ruleID int64) error {
	return r.Locked(ruleID, func() error {
		n, err := r.store.RejectRule(ctx, ruleID)
		return checkRule(ruleID, "reject rule", n, err)
	})
}

// Locked runs fn while holding the lock for ruleID.
func (r *Recorder) Locked(ruleID int64, fn func() error) error {
	unlock := r.locks.Lock(ruleID)
	defer unlock()
	return fn()
}

func checkRule(id int64, op string, n int64, err error) error {
	if err != nil {
		return core.NewStorageError(op, err)
	}
	if n == 0 {
		return fmt.Errorf("rule %d: %w", id, core.ErrNotFound)
	}
	return nil
}
