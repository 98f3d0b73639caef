package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/houfu/lavender-ledger/internal/classify"
	"github.com/houfu/lavender-ledger/internal/core"
	"github.com/houfu/lavender-ledger/internal/ledger"
	"github.com/houfu/lavender-ledger/internal/rules"
	"github.com/houfu/lavender-ledger/internal/storage"
	"github.com/houfu/lavender-ledger/internal/vocab"
)

const defaultHintLimit = 50

// OrchestratorConfig tunes the categorization pass.
type OrchestratorConfig struct {
	Policy core.Policy

	// Notes are free-text context handed to the classifier with every batch
	Notes string

	// HintLimit caps the rules sent as classifier context (default: 50)
	HintLimit int
}

// CategorizeResult counts what one categorization pass did.
type CategorizeResult struct {
	ByRule        int
	ByClassifier  int
	Flagged       int
	Uncategorized int
	RulesCreated  int
	Errors        []string
}

// CategorizationOrchestrator runs the rule tier and then the classifier tier
// over every uncategorized transaction.
type CategorizationOrchestrator struct {
	repo       *storage.SQLiteRepository
	ledger     *ledger.Ledger
	classifier classify.Classifier
	learning   *LearningService
	config     OrchestratorConfig
}

// NewCategorizationOrchestrator wires the tiers. A nil classifier disables
// escalation; unmatched rows then stay uncategorized.
func NewCategorizationOrchestrator(
	repo *storage.SQLiteRepository,
	l *ledger.Ledger,
	classifier classify.Classifier,
	learning *LearningService,
	config OrchestratorConfig,
) *CategorizationOrchestrator {
	if config.HintLimit <= 0 {
		config.HintLimit = defaultHintLimit
	}
	if config.Policy.EscalationBatchSize <= 0 {
		config.Policy.EscalationBatchSize = core.DefaultPolicy().EscalationBatchSize
	}
	if config.Policy.ClassifierTimeout <= 0 {
		config.Policy.ClassifierTimeout = core.DefaultPolicy().ClassifierTimeout
	}
	return &CategorizationOrchestrator{
		repo:       repo,
		ledger:     l,
		classifier: classifier,
		learning:   learning,
		config:     config,
	}
}

// Run categorizes everything currently uncategorized. Classifier failures
// are recorded in the result and never fail the pass; storage failures do.
func (o *CategorizationOrchestrator) Run(ctx context.Context, runID int64) (CategorizeResult, error) {
	var res CategorizeResult
	start := time.Now()
	logger := slog.With("run_id", runID)

	pending, err := ledger.Collect(o.ledger.ListUncategorized(ctx), 0)
	if err != nil {
		return res, err
	}
	if len(pending) == 0 {
		logger.InfoContext(ctx, "Nothing to categorize")
		return res, nil
	}

	ruleSet, err := o.repo.Queries().ListRules(ctx)
	if err != nil {
		return res, core.NewStorageError("list rules", err)
	}
	matcher := rules.NewMatcher(ruleSet, o.config.Policy)

	var escalate []core.Transaction
	for _, t := range pending {
		rule, ok := matcher.Match(t.MerchantOriginal, t.Amount, t.AccountType)
		if !ok {
			escalate = append(escalate, t)
			continue
		}
		if err := o.learning.Recorder().MarkUsed(ctx, rule.ID); err != nil {
			return res, err
		}
		flagged, err := o.ledger.ApplyCategorization(ctx, o.repo.Queries(), ledger.Categorization{
			TransactionID: t.ID,
			Category:      rule.Category,
			Confidence:    rule.Confidence,
			RuleID:        &rule.ID,
		})
		if err != nil {
			return res, err
		}
		res.ByRule++
		if flagged {
			res.Flagged++
		}
	}

	logger.InfoContext(ctx, "Rule tier finished",
		"pending", len(pending),
		"by_rule", res.ByRule,
		"active_rules", matcher.Len(),
		"skipped_rules", matcher.Skipped(),
		"cache_hit_ratio", matcher.CacheStats().HitRatio())

	if len(escalate) > 0 {
		if err := o.escalate(ctx, logger, matcher, escalate, &res); err != nil {
			return res, err
		}
	}

	logger.InfoContext(ctx, "Categorization finished",
		"by_rule", res.ByRule,
		"by_classifier", res.ByClassifier,
		"flagged", res.Flagged,
		"uncategorized", res.Uncategorized,
		"rules_created", res.RulesCreated,
		"errors", len(res.Errors),
		"duration", time.Since(start))
	return res, nil
}

func (o *CategorizationOrchestrator) escalate(ctx context.Context, logger *slog.Logger, matcher *rules.Matcher, items []core.Transaction, res *CategorizeResult) error {
	if o.classifier == nil {
		logger.WarnContext(ctx, "No classifier configured, leaving transactions uncategorized", "count", len(items))
		res.Uncategorized += len(items)
		return nil
	}

	categories, err := vocab.Names(ctx, o.repo.Queries())
	if err != nil {
		return err
	}
	hints := classify.HintsFromRules(matcher.Rules(), o.config.HintLimit)

	for batch := range slices.Chunk(items, o.config.Policy.EscalationBatchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}

		req := classify.Request{
			Items:      make([]classify.Item, 0, len(batch)),
			Categories: categories,
			Rules:      hints,
			Notes:      o.config.Notes,
		}
		for _, t := range batch {
			req.Items = append(req.Items, classify.NewItem(t))
		}

		results, err := o.classify(ctx, req)
		if err != nil {
			cu := &core.ClassificationUnavailable{Items: len(batch), Err: err}
			logger.WarnContext(ctx, "Classifier unavailable, flagging batch for review",
				"classifier", o.classifier.Name(),
				"items", len(batch),
				"error", err)
			res.Errors = append(res.Errors, cu.Error())
			for _, t := range batch {
				if err := o.ledger.SetFlagged(ctx, o.repo.Queries(), t.ID, true); err != nil {
					return err
				}
			}
			res.Flagged += len(batch)
			res.Uncategorized += len(batch)
			continue
		}

		if err := o.applyResults(ctx, logger, batch, results, categories, res); err != nil {
			return err
		}
	}
	return nil
}

// classify bounds a single call. No storage transaction is open here.
func (o *CategorizationOrchestrator) classify(ctx context.Context, req classify.Request) ([]classify.Result, error) {
	cctx, cancel := context.WithTimeout(ctx, o.config.Policy.ClassifierTimeout)
	defer cancel()
	return o.classifier.Classify(cctx, req)
}

func (o *CategorizationOrchestrator) applyResults(
	ctx context.Context,
	logger *slog.Logger,
	batch []core.Transaction,
	results []classify.Result,
	categories []string,
	res *CategorizeResult,
) error {
	inBatch := make(map[int64]bool, len(batch))
	for _, t := range batch {
		inBatch[t.ID] = true
	}
	applied := make(map[int64]bool, len(results))

	for _, r := range results {
		if !inBatch[r.TransactionID] || applied[r.TransactionID] {
			logger.DebugContext(ctx, "Ignoring classifier result", "transaction_id", r.TransactionID)
			continue
		}

		c := ledger.Categorization{
			TransactionID: r.TransactionID,
			Category:      r.Category,
			Confidence:    r.Confidence,
		}
		known := r.Category != core.Uncategorized && slices.Contains(categories, r.Category)
		if !known {
			forced := true
			c.Category = core.Uncategorized
			c.FlaggedOverride = &forced
			logger.WarnContext(ctx, "Classifier returned a category outside the vocabulary",
				"transaction_id", r.TransactionID,
				"category", r.Category)
		}

		flagged, err := o.ledger.ApplyCategorization(ctx, o.repo.Queries(), c)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			return err
		}
		applied[r.TransactionID] = true
		if known {
			res.ByClassifier++
		} else {
			res.Uncategorized++
		}
		if flagged {
			res.Flagged++
		}

		if known && r.SuggestedPattern != "" && core.ClampConfidence(r.Confidence) >= o.config.Policy.AutoRuleThreshold {
			created, err := o.learning.AutoCreateRule(ctx, RuleInput{
				Pattern:    r.SuggestedPattern,
				Category:   r.Category,
				Confidence: core.ClampConfidence(r.Confidence),
				Notes:      autoRuleNote(r.Reasoning),
			})
			switch {
			case core.IsStorage(err):
				return err
			case err != nil:
				logger.WarnContext(ctx, "Suggested pattern not usable",
					"pattern", r.SuggestedPattern,
					"error", err)
			case created:
				res.RulesCreated++
			}
		}
	}

	if missing := len(batch) - len(applied); missing > 0 {
		res.Uncategorized += missing
		logger.InfoContext(ctx, "Classifier left transactions uncategorized",
			"missing", missing,
			"batch", len(batch))
	}
	return nil
}

func (r CategorizeResult) String() string {
	return fmt.Sprintf("by_rule=%d by_classifier=%d flagged=%d uncategorized=%d rules_created=%d",
		r.ByRule, r.ByClassifier, r.Flagged, r.Uncategorized, r.RulesCreated)
}
