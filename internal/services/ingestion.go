package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/houfu/lavender-ledger/internal/core"
	"github.com/houfu/lavender-ledger/internal/fingerprint"
	"github.com/houfu/lavender-ledger/internal/intake"
	"github.com/houfu/lavender-ledger/internal/ledger"
	"github.com/houfu/lavender-ledger/internal/registry"
	"github.com/houfu/lavender-ledger/internal/storage"
)

const defaultParallelism = 4

// RunPublisher announces finalized runs. Publishing is best effort.
type RunPublisher interface {
	PublishRunFinalized(ctx context.Context, run core.IngestionRun) error
}

// IngestionConfig holds configuration for the ingestion driver
type IngestionConfig struct {
	// Parallelism bounds the units processed at once (default: 4)
	Parallelism int
}

// IngestionService drives one ingestion run from parsed documents to a
// finalized run record.
type IngestionService struct {
	repo         *storage.SQLiteRepository
	registry     *registry.Registry
	ledger       *ledger.Ledger
	orchestrator *CategorizationOrchestrator
	publisher    RunPublisher
	config       IngestionConfig
	now          func() time.Time
}

func NewIngestionService(
	repo *storage.SQLiteRepository,
	l *ledger.Ledger,
	orchestrator *CategorizationOrchestrator,
	publisher RunPublisher,
	config IngestionConfig,
) *IngestionService {
	if config.Parallelism <= 0 {
		config.Parallelism = defaultParallelism
	}
	return &IngestionService{
		repo:         repo,
		registry:     registry.New(),
		ledger:       l,
		orchestrator: orchestrator,
		publisher:    publisher,
		config:       config,
		now:          time.Now,
	}
}

// unit is one (document, account) pair, processed in its own transaction.
type unit struct {
	doc  intake.Document
	stmt intake.Statement
}

func (u unit) source() string {
	if u.doc.SourcePath != "" {
		return u.doc.SourcePath
	}
	return u.doc.Path
}

// runState is shared by the unit goroutines.
type runState struct {
	mu     sync.Mutex
	counts core.RunCounts
	errs   []string
}

func (st *runState) add(c core.RunCounts, errs ...string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.counts.Add(c)
	st.errs = append(st.errs, errs...)
}

// RunDir loads every intake document under dir and ingests them. Documents
// that fail to load become error entries of the run.
func (s *IngestionService) RunDir(ctx context.Context, dir string) (core.IngestionRun, error) {
	docs, loadErrs := intake.LoadDir(dir)
	return s.run(ctx, docs, loadErrs)
}

// Run ingests the documents and categorizes what was added. The run record
// is always finalized: COMPLETED unless a storage failure aborted it.
func (s *IngestionService) Run(ctx context.Context, docs []intake.Document) (core.IngestionRun, error) {
	return s.run(ctx, docs, nil)
}

func (s *IngestionService) run(ctx context.Context, docs []intake.Document, loadErrs []error) (run core.IngestionRun, err error) {
	runID, err := s.repo.Queries().CreateRun(ctx, s.now())
	if err != nil {
		return core.IngestionRun{}, core.NewStorageError("create run", err)
	}
	logger := slog.With("run_id", runID)
	logger.InfoContext(ctx, "Ingestion run started", "documents", len(docs))

	st := &runState{}
	for _, le := range loadErrs {
		st.errs = append(st.errs, le.Error())
	}

	defer func() {
		run = s.finalize(ctx, logger, runID, st, err)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Parallelism)
	for _, doc := range docs {
		st.add(core.RunCounts{FilesProcessed: 1})
		for _, stmt := range doc.Statements {
			u := unit{doc: doc, stmt: stmt}
			g.Go(func() error {
				c, unitErrs, err := s.ingestUnit(gctx, runID, u)
				if core.IsStorage(err) {
					return fmt.Errorf("%s [%s]: %w", u.source(), u.stmt.Account.Name, err)
				}
				if err != nil {
					unitErrs = append(unitErrs, fmt.Sprintf("%s [%s]: %v", u.source(), u.stmt.Account.Name, err))
				}
				st.add(c, unitErrs...)
				return nil
			})
		}
	}
	if err = g.Wait(); err != nil {
		return run, err
	}

	if s.orchestrator == nil {
		return run, nil
	}
	cres, err := s.orchestrator.Run(ctx, runID)
	st.add(core.RunCounts{
		CategorizedByRule:       cres.ByRule,
		CategorizedByClassifier: cres.ByClassifier,
		TransactionsUpdated:     cres.ByRule + cres.ByClassifier,
		Flagged:                 cres.Flagged,
	}, cres.Errors...)
	return run, err
}

// ingestUnit resolves the account, checks the (fingerprint, account) pair,
// then registers the statement and inserts its records, all in one
// transaction. Record-level problems come back as error entries.
func (s *IngestionService) ingestUnit(ctx context.Context, runID int64, u unit) (core.RunCounts, []string, error) {
	var (
		c    core.RunCounts
		errs []string
	)
	fp := u.doc.Fingerprint
	status := storage.FileStatus{
		RunID:       runID,
		SourcePath:  u.source(),
		FileHash:    fp.String(),
		ProcessedAt: s.now(),
	}

	err := s.repo.InTx(ctx, func(q *storage.Queries) error {
		acct, err := s.registry.GetOrCreateAccount(ctx, q, u.stmt.Account)
		if err != nil {
			return err
		}
		status.AccountID = &acct.ID

		dup, err := fingerprint.NewStore(q).Exists(ctx, fp, &acct.ID)
		if err != nil {
			return core.NewStorageError("check fingerprint", err)
		}
		var stmtID int64
		if !dup {
			stmtID, err = s.registry.RegisterStatement(ctx, q, registry.NewStatement{
				AccountID:        acct.ID,
				Fingerprint:      fp,
				Date:             u.stmt.Date,
				PeriodStart:      u.stmt.PeriodStart,
				PeriodEnd:        u.stmt.PeriodEnd,
				SourcePath:       u.source(),
				TransactionCount: countValid(u.stmt.Records),
			})
			dup = core.IsDuplicate(err)
			if err != nil && !dup {
				return err
			}
		}
		if dup {
			c.Duplicates = len(u.stmt.Records)
			status.Status = storage.FileDuplicate
			status.Duplicates = c.Duplicates
			slog.InfoContext(ctx, "Statement already ingested",
				"run_id", runID,
				"account_id", acct.ID,
				"fingerprint", fp,
				"records", len(u.stmt.Records))
			return s.recordFile(ctx, q, status)
		}
		status.StatementID = &stmtID

		res, err := s.ledger.InsertBatch(ctx, q, &stmtID, acct.ID, u.stmt.Records)
		if err != nil {
			return err
		}
		c.TransactionsAdded = res.Inserted
		c.Duplicates = res.Duplicates
		c.Rejected = len(res.Rejected)
		for _, verr := range res.Rejected {
			errs = append(errs, fmt.Sprintf("%s [%s]: %v", u.source(), acct.Name, verr))
		}

		status.Status = storage.FileInserted
		status.Inserted = res.Inserted
		status.Duplicates = res.Duplicates
		status.Rejected = len(res.Rejected)
		return s.recordFile(ctx, q, status)
	})
	if err != nil {
		if !core.IsStorage(err) {
			// The rollback may have undone the account row too.
			status.AccountID, status.StatementID = nil, nil
			status.Status = storage.FileFailed
			status.Error = err.Error()
			if ferr := s.recordFile(ctx, s.repo.Queries(), status); ferr != nil {
				return core.RunCounts{}, nil, ferr
			}
		}
		return core.RunCounts{}, nil, err
	}
	return c, errs, nil
}

func (s *IngestionService) recordFile(ctx context.Context, q *storage.Queries, f storage.FileStatus) error {
	return core.NewStorageError("insert file status", q.InsertFileStatus(ctx, f))
}

// finalize writes the terminal status even when ctx is already cancelled.
func (s *IngestionService) finalize(ctx context.Context, logger *slog.Logger, runID int64, st *runState, runErr error) core.IngestionRun {
	ctx = context.WithoutCancel(ctx)

	st.mu.Lock()
	counts := st.counts
	errs := append([]string(nil), st.errs...)
	st.mu.Unlock()

	status := core.RunCompleted
	if runErr != nil {
		status = core.RunFailed
		errs = append(errs, runErr.Error())
	}
	summary := counts.Summary(len(errs))

	n, err := s.repo.Queries().FinalizeRun(ctx, storage.FinalizeRunParams{
		ID:          runID,
		Status:      status,
		CompletedAt: s.now(),
		Counts:      counts,
		Errors:      errs,
		Summary:     summary,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to finalize run", "error", err)
	} else if n == 0 {
		logger.WarnContext(ctx, "Run was already finalized")
	}

	run, err := s.repo.Queries().GetRun(ctx, runID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to reload run", "error", err)
		run = core.IngestionRun{ID: runID, Status: status, Errors: errs, Summary: summary}
	}

	logger.InfoContext(ctx, "Ingestion run finalized",
		"status", run.Status,
		"summary", summary,
		"errors", len(errs))

	if s.publisher != nil {
		if err := s.publisher.PublishRunFinalized(ctx, run); err != nil {
			logger.ErrorContext(ctx, "Failed to publish run event", "error", err)
		}
	}
	return run
}

func countValid(records []core.Record) int {
	n := 0
	for i, r := range records {
		if _, verr := r.Validate(i); verr == nil {
			n++
		}
	}
	return n
}
