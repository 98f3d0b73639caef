// Package worker applies queued review decisions and keeps the category
// vocabulary fresh.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/houfu/lavender-ledger/internal/core"
	"github.com/houfu/lavender-ledger/internal/log"
)

var errConsumerStopped = errors.New("consumer stopped")

// Applier folds one review decision into the ledger and rule set.
type Applier interface {
	Apply(ctx context.Context, d core.ReviewDecision) error
}

// DecisionSource delivers review decisions until ctx is cancelled.
type DecisionSource interface {
	ConsumeReviewDecisions(ctx context.Context, handler func(context.Context, core.ReviewDecision) error) error
}

// VocabularySyncer adds categories that appeared upstream.
type VocabularySyncer interface {
	SyncVocabulary(ctx context.Context) (int, error)
}

type ReviewWorker struct {
	learning        Applier
	vocab           VocabularySyncer
	refreshInterval time.Duration
	logger          *log.Logger
}

// NewReviewWorker builds a worker. vocab may be nil to skip refreshes.
func NewReviewWorker(learning Applier, vocab VocabularySyncer, refreshInterval time.Duration, logger *log.Logger) *ReviewWorker {
	if refreshInterval <= 0 {
		refreshInterval = 24 * time.Hour
	}
	return &ReviewWorker{
		learning:        learning,
		vocab:           vocab,
		refreshInterval: refreshInterval,
		logger:          logger.WithComponent(log.ComponentWorker),
	}
}

// HandleDecision applies one decision. Decisions for transactions that no
// longer exist are dropped; everything else is returned so the consumer can
// decide whether to requeue.
func (w *ReviewWorker) HandleDecision(ctx context.Context, d core.ReviewDecision) error {
	logger := w.logger.WithFields(log.NewFields().WithDecision(d).WithOperation(log.OpReview))
	ctx = log.WithLogger(ctx, logger)

	if err := w.learning.Apply(ctx, d); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			logger.Warn("Dropping review decision for missing transaction", log.FieldError, err)
			return nil
		}
		logger.Error("Failed to apply review decision", log.FieldError, err)
		return fmt.Errorf("apply review decision: %w", err)
	}
	logger.Info("Review decision applied")
	return nil
}

// RefreshVocabulary runs one vocabulary sync.
func (w *ReviewWorker) RefreshVocabulary(ctx context.Context) error {
	if w.vocab == nil {
		return nil
	}
	added, err := w.vocab.SyncVocabulary(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("Vocabulary refreshed", "added", added)
	return nil
}

// Run consumes decisions from src and refreshes the vocabulary on a ticker
// until ctx is cancelled or the consumer fails.
func (w *ReviewWorker) Run(ctx context.Context, src DecisionSource) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := src.ConsumeReviewDecisions(gctx, w.HandleDecision)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errConsumerStopped
		}
		return fmt.Errorf("consume review decisions: %w", err)
	})

	if w.vocab != nil {
		g.Go(func() error {
			ticker := time.NewTicker(w.refreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					// A failed refresh keeps the current vocabulary.
					if err := w.RefreshVocabulary(gctx); err != nil {
						w.logger.Error("Periodic vocabulary refresh failed", log.FieldError, err)
					}
				}
			}
		})
	}

	return g.Wait()
}
