package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/houfu/lavender-ledger/internal/classify"
	"github.com/houfu/lavender-ledger/internal/config"
	"github.com/houfu/lavender-ledger/internal/ledger"
	"github.com/houfu/lavender-ledger/internal/log"
	"github.com/houfu/lavender-ledger/internal/rules"
	"github.com/houfu/lavender-ledger/internal/services"
	"github.com/houfu/lavender-ledger/internal/sheets/google"
	"github.com/houfu/lavender-ledger/internal/sheets/memory"
	"github.com/houfu/lavender-ledger/internal/storage"
	"github.com/houfu/lavender-ledger/internal/vocab"
)

const (
	classifierRetries   = 3
	classifierRetryBase = time.Second
)

// Engine is the wired service graph every deployable shares.
type Engine struct {
	Repo         *storage.SQLiteRepository
	Ledger       *ledger.Ledger
	Learning     *services.LearningService
	Orchestrator *services.CategorizationOrchestrator
	Ingestion    *services.IngestionService

	// Sources are the configured vocabulary sources, kept for refreshes.
	Sources []vocab.Source
}

// BuildEngine syncs the category vocabulary, selects the classifier and
// wires the services. publisher may be nil.
func BuildEngine(ctx context.Context, logger *log.Logger, cfg *config.Config, repo *storage.SQLiteRepository, publisher services.RunPublisher) (*Engine, error) {
	sources, entries, notes, err := vocabularySources(ctx, cfg)
	if err != nil {
		return nil, err
	}
	engine := &Engine{Repo: repo, Sources: sources}
	if _, err := engine.SyncVocabulary(ctx); err != nil {
		return nil, err
	}

	classifier, err := NewClassifier(ctx, logger, cfg, entries)
	if err != nil {
		return nil, err
	}

	policy := cfg.Policy()
	l := ledger.New(repo.Queries(), policy)
	learning := services.NewLearningService(repo, l, rules.NewRecorder(repo.Queries()))
	orchestrator := services.NewCategorizationOrchestrator(repo, l, classifier, learning, services.OrchestratorConfig{
		Policy: policy,
		Notes:  joinNotes(cfg.ContextNotes, notes),
	})
	ingestion := services.NewIngestionService(repo, l, orchestrator, publisher, services.IngestionConfig{
		Parallelism: cfg.IngestParallelism,
	})

	engine.Ledger = l
	engine.Learning = learning
	engine.Orchestrator = orchestrator
	engine.Ingestion = ingestion
	return engine, nil
}

// SyncVocabulary adds categories the sources know and the store does not.
func (e *Engine) SyncVocabulary(ctx context.Context) (int, error) {
	if len(e.Sources) == 0 {
		return 0, nil
	}
	added, err := vocab.Sync(ctx, e.Repo.Queries(), e.Sources...)
	if err != nil {
		return 0, fmt.Errorf("sync vocabulary: %w", err)
	}
	return added, nil
}

// vocabularySources returns the configured category sources. A .txt
// CATEGORIES_FILE is a plain list; anything else is the YAML document, whose
// keywords and notes also feed the keyword classifier and the prompt.
func vocabularySources(ctx context.Context, cfg *config.Config) ([]vocab.Source, []vocab.Entry, string, error) {
	var (
		sources []vocab.Source
		entries []vocab.Entry
		notes   string
	)
	if cfg.CategoriesFile != "" {
		if strings.EqualFold(filepath.Ext(cfg.CategoriesFile), ".txt") {
			store, err := memory.NewFromFile(cfg.CategoriesFile)
			if err != nil {
				return nil, nil, "", err
			}
			sources = append(sources, store)
		} else {
			f, err := vocab.Load(cfg.CategoriesFile)
			if err != nil {
				return nil, nil, "", err
			}
			sources = append(sources, f)
			entries, notes = f.Entries, f.Notes
		}
	}
	if cfg.SheetsEnabled() {
		client, err := google.New(ctx, google.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			CategoriesSheet: cfg.GoogleCategoriesSheet,
			CredentialsFile: cfg.GoogleServiceAccountFile,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
		})
		if err != nil {
			return nil, nil, "", fmt.Errorf("google sheets: %w", err)
		}
		sources = append(sources, client)
	}
	return sources, entries, notes, nil
}

// NewClassifier selects the escalation tier. A nil Classifier (CLASSIFIER=none)
// leaves unmatched transactions uncategorized.
func NewClassifier(ctx context.Context, logger *log.Logger, cfg *config.Config, entries []vocab.Entry) (classify.Classifier, error) {
	clog := logger.WithComponent(log.ComponentClassifier).Logger
	switch cfg.Classifier {
	case "none":
		logger.Info("Classifier disabled")
		return nil, nil
	case "gemini":
		c, err := classify.NewGeminiClassifier(ctx, classify.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		}, clog)
		if err != nil {
			return nil, err
		}
		return classify.WithRetry(c, classifierRetries, classifierRetryBase), nil
	case "openai":
		c, err := classify.NewOpenAIClassifier(classify.OpenAIConfig{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
		}, clog)
		if err != nil {
			return nil, err
		}
		return classify.WithRetry(c, classifierRetries, classifierRetryBase), nil
	default:
		if len(entries) == 0 {
			logger.Warn("Keyword classifier has no vocabulary keywords; set CATEGORIES_FILE to a YAML vocabulary")
		}
		return classify.NewKeywordClassifier(entries), nil
	}
}

func joinNotes(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}
