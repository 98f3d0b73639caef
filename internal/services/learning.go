package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/houfu/lavender-ledger/internal/core"
	"github.com/houfu/lavender-ledger/internal/ledger"
	"github.com/houfu/lavender-ledger/internal/rules"
	"github.com/houfu/lavender-ledger/internal/storage"
	"github.com/houfu/lavender-ledger/internal/vocab"
)

// ErrUnknownCategory is returned when a decision names a category outside
// the vocabulary.
var ErrUnknownCategory = errors.New("unknown category")

const (
	defaultReviewConfidence = 0.95
	autoNoteLimit           = 100
)

// RuleInput describes a rule to create or merge.
type RuleInput struct {
	Pattern     string
	Category    string
	Confidence  float64
	MinAmount   *decimal.Decimal
	MaxAmount   *decimal.Decimal
	AccountType *core.AccountType
	Notes       string
}

func (in RuleInput) rule() core.Rule {
	kind := core.RuleKindPattern
	if in.MinAmount != nil || in.MaxAmount != nil || in.AccountType != nil {
		kind = core.RuleKindConditional
	}
	return core.Rule{
		Pattern:     strings.TrimSpace(in.Pattern),
		Category:    strings.TrimSpace(in.Category),
		Confidence:  in.Confidence,
		Kind:        kind,
		MinAmount:   in.MinAmount,
		MaxAmount:   in.MaxAmount,
		AccountType: in.AccountType,
		Notes:       in.Notes,
	}
}

// LearningService folds review decisions and confident classifier output
// back into the rule set.
type LearningService struct {
	repo     *storage.SQLiteRepository
	ledger   *ledger.Ledger
	recorder *rules.Recorder
	now      func() time.Time
}

func NewLearningService(repo *storage.SQLiteRepository, l *ledger.Ledger, recorder *rules.Recorder) *LearningService {
	return &LearningService{
		repo:     repo,
		ledger:   l,
		recorder: recorder,
		now:      time.Now,
	}
}

// Recorder exposes the shared per-rule signal writer.
func (s *LearningService) Recorder() *rules.Recorder {
	return s.recorder
}

// Accept confirms the current categorization. A flagged row that was
// categorized by a rule counts as a confirmed application of that rule.
func (s *LearningService) Accept(ctx context.Context, txID int64) error {
	t, err := s.transaction(ctx, txID)
	if err != nil {
		return err
	}
	if !t.Flagged {
		slog.DebugContext(ctx, "Accept on unflagged transaction ignored", "transaction_id", txID)
		return nil
	}

	if err := s.ledger.SetFlagged(ctx, s.repo.Queries(), txID, false); err != nil {
		return err
	}
	if t.RuleID != nil {
		if err := s.recorder.Confirm(ctx, *t.RuleID); err != nil {
			return fmt.Errorf("confirm rule: %w", err)
		}
	}

	slog.InfoContext(ctx, "Categorization accepted",
		"transaction_id", txID,
		"category", deref(t.Category),
		"rule_id", ruleIDAttr(t.RuleID))
	return nil
}

// Recategorize overwrites the category with confidence 1.0 and clears the
// flag. The rule that produced the replaced category takes a rejection in
// the same storage transaction.
func (s *LearningService) Recategorize(ctx context.Context, txID int64, category string) error {
	category = strings.TrimSpace(category)
	if err := s.checkCategory(ctx, category); err != nil {
		return err
	}
	t, err := s.transaction(ctx, txID)
	if err != nil {
		return err
	}

	err = s.lockedForRejection(t, category, func() error {
		return s.repo.InTx(ctx, func(q *storage.Queries) error {
			return s.recategorizeIn(ctx, q, t, category)
		})
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Transaction recategorized",
		"transaction_id", txID,
		"from", deref(t.Category),
		"to", category,
		"rejected_rule_id", ruleIDAttr(t.RuleID))
	return nil
}

// CreateRule stores a human-confirmed rule. An existing pattern is merged:
// category replaced, confidence raised to the larger value, filters replaced
// when given.
func (s *LearningService) CreateRule(ctx context.Context, in RuleInput) (core.Rule, error) {
	r := s.confirmedRule(in)
	if err := s.validateRule(ctx, r); err != nil {
		return core.Rule{}, err
	}

	var stored core.Rule
	err := s.repo.InTx(ctx, func(q *storage.Queries) error {
		var err error
		stored, err = s.upsertConfirmedIn(ctx, q, r)
		return err
	})
	if err != nil {
		return core.Rule{}, err
	}

	slog.InfoContext(ctx, "Rule saved",
		"rule_id", stored.ID,
		"pattern", stored.Pattern,
		"category", stored.Category,
		"kind", stored.Kind)
	return stored, nil
}

// AutoCreateRule inserts an unconfirmed rule from classifier output and
// reports whether it was new. Existing patterns are left alone.
func (s *LearningService) AutoCreateRule(ctx context.Context, in RuleInput) (bool, error) {
	r := in.rule()
	r.AutoCreated = true
	if err := s.validateRule(ctx, r); err != nil {
		return false, err
	}

	created, err := s.repo.Queries().InsertRuleIfAbsent(ctx, r, s.now())
	if err != nil {
		return false, core.NewStorageError("insert rule", err)
	}
	if created {
		slog.InfoContext(ctx, "Rule auto-created",
			"pattern", r.Pattern,
			"category", r.Category,
			"confidence", r.Confidence)
	}
	return created, nil
}

// Skip leaves the transaction as it is.
func (s *LearningService) Skip(ctx context.Context, txID int64) error {
	if _, err := s.transaction(ctx, txID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Review skipped", "transaction_id", txID)
	return nil
}

// Apply dispatches one review decision.
func (s *LearningService) Apply(ctx context.Context, d core.ReviewDecision) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("validate decision: %w", err)
	}

	switch d.Action {
	case core.ReviewAccept:
		return s.Accept(ctx, d.TransactionID)
	case core.ReviewSkip:
		return s.Skip(ctx, d.TransactionID)
	case core.ReviewRecategorize:
		return s.Recategorize(ctx, d.TransactionID, d.Category)
	case core.ReviewCreateRule:
		return s.recategorizeWithRule(ctx, d)
	}
	return fmt.Errorf("unknown review action %q", d.Action)
}

// recategorizeWithRule applies a create-rule decision. The rule is validated
// before anything is written, and the recategorization, the rejection of the
// previous rule and the rule upsert commit together.
func (s *LearningService) recategorizeWithRule(ctx context.Context, d core.ReviewDecision) error {
	category := strings.TrimSpace(d.Category)
	if err := s.checkCategory(ctx, category); err != nil {
		return err
	}
	t, err := s.transaction(ctx, d.TransactionID)
	if err != nil {
		return err
	}

	pattern := d.Pattern
	if strings.TrimSpace(pattern) == "" {
		pattern = core.SuggestPattern(t.MerchantOriginal)
	}
	confidence := d.Confidence
	if confidence == 0 {
		confidence = defaultReviewConfidence
	}
	r := s.confirmedRule(RuleInput{
		Pattern:     pattern,
		Category:    category,
		Confidence:  confidence,
		MinAmount:   d.MinAmount,
		MaxAmount:   d.MaxAmount,
		AccountType: d.AccountType,
	})
	if err := s.validateRule(ctx, r); err != nil {
		return err
	}

	var stored core.Rule
	err = s.lockedForRejection(t, category, func() error {
		return s.repo.InTx(ctx, func(q *storage.Queries) error {
			if err := s.recategorizeIn(ctx, q, t, category); err != nil {
				return err
			}
			var err error
			stored, err = s.upsertConfirmedIn(ctx, q, r)
			return err
		})
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Transaction recategorized with rule",
		"transaction_id", t.ID,
		"from", deref(t.Category),
		"to", category,
		"rejected_rule_id", ruleIDAttr(t.RuleID),
		"rule_id", stored.ID,
		"pattern", stored.Pattern)
	return nil
}

// lockedForRejection runs fn under the lock of the rule that loses the
// transaction, if any.
func (s *LearningService) lockedForRejection(t core.Transaction, category string, fn func() error) error {
	if t.RuleID != nil && deref(t.Category) != category {
		return s.recorder.Locked(*t.RuleID, fn)
	}
	return fn()
}

func (s *LearningService) recategorizeIn(ctx context.Context, q *storage.Queries, t core.Transaction, category string) error {
	n, err := q.RecategorizeTransaction(ctx, t.ID, category, s.now())
	if err != nil {
		return core.NewStorageError("recategorize transaction", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %d: %w", t.ID, core.ErrNotFound)
	}
	if t.RuleID == nil || deref(t.Category) == category {
		return nil
	}
	n, err = q.RejectRule(ctx, *t.RuleID)
	if err != nil {
		return core.NewStorageError("reject rule", err)
	}
	if n == 0 {
		return fmt.Errorf("rule %d: %w", *t.RuleID, core.ErrNotFound)
	}
	return nil
}

func (s *LearningService) confirmedRule(in RuleInput) core.Rule {
	r := in.rule()
	r.UserConfirmed = true
	if r.Notes == "" {
		r.Notes = "User-created during review on " + s.now().Format(core.DateLayout)
	}
	return r
}

func (s *LearningService) upsertConfirmedIn(ctx context.Context, q *storage.Queries, r core.Rule) (core.Rule, error) {
	created, err := q.InsertRuleIfAbsent(ctx, r, s.now())
	if err != nil {
		return core.Rule{}, core.NewStorageError("insert rule", err)
	}
	if !created {
		if err := q.MergeConfirmedRule(ctx, r); err != nil {
			return core.Rule{}, core.NewStorageError("merge rule", err)
		}
	}
	stored, err := q.GetRuleByPattern(ctx, r.Pattern)
	if err != nil {
		return core.Rule{}, core.NewStorageError("get rule", err)
	}
	return stored, nil
}

func (s *LearningService) transaction(ctx context.Context, id int64) (core.Transaction, error) {
	t, err := s.repo.Queries().GetTransaction(ctx, id)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return core.Transaction{}, core.NewStorageError("get transaction", err)
	}
	return t, err
}

func (s *LearningService) validateRule(ctx context.Context, r core.Rule) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("validate rule: %w", err)
	}
	if _, err := rules.Compile(r.Pattern); err != nil {
		return fmt.Errorf("validate rule: %w", err)
	}
	return s.checkCategory(ctx, r.Category)
}

func (s *LearningService) checkCategory(ctx context.Context, category string) error {
	if category == "" {
		return core.ErrEmptyCategory
	}
	names, err := vocab.Names(ctx, s.repo.Queries())
	if err != nil {
		return err
	}
	if !slices.Contains(names, category) {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return nil
}

// autoRuleNote keeps the first 100 characters of the classifier's reasoning.
func autoRuleNote(reasoning string) string {
	reasoning = strings.TrimSpace(reasoning)
	if utf8.RuneCountInString(reasoning) > autoNoteLimit {
		reasoning = string([]rune(reasoning)[:autoNoteLimit])
	}
	return "Auto-created: " + reasoning
}

func ruleIDAttr(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
