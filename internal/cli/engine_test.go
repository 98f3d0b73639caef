package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houfu/lavender-ledger/internal/config"
	"github.com/houfu/lavender-ledger/internal/log"
	"github.com/houfu/lavender-ledger/internal/storage"
	"github.com/houfu/lavender-ledger/internal/vocab"
)

func testSetup(t *testing.T) (*log.Logger, *storage.SQLiteRepository) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return log.New(log.Config{Output: &bytes.Buffer{}}), repo
}

func baseConfig() *config.Config {
	cfg := config.Load()
	cfg.Classifier = "keyword"
	cfg.CategoriesFile = ""
	cfg.GoogleSpreadsheetID = ""
	return cfg
}

func TestBuildEngineSyncsYAMLVocabulary(t *testing.T) {
	logger, repo := testSetup(t)
	cfg := baseConfig()
	cfg.CategoriesFile = filepath.Join("..", "vocab", "testdata", "categories.yaml")

	engine, err := BuildEngine(context.Background(), logger, cfg, repo, nil)
	require.NoError(t, err)
	require.NotNil(t, engine.Ingestion)

	names, err := vocab.Names(context.Background(), repo.Queries())
	require.NoError(t, err)
	assert.Contains(t, names, "Pet Care")
	assert.Contains(t, names, "Groceries")
}

func TestBuildEngineReadsTextVocabulary(t *testing.T) {
	logger, repo := testSetup(t)
	path := filepath.Join(t.TempDir(), "categories.txt")
	require.NoError(t, os.WriteFile(path, []byte("Hobbies\nDonations, expense\n"), 0644))

	cfg := baseConfig()
	cfg.CategoriesFile = path
	_, err := BuildEngine(context.Background(), logger, cfg, repo, nil)
	require.NoError(t, err)

	names, err := vocab.Names(context.Background(), repo.Queries())
	require.NoError(t, err)
	assert.Contains(t, names, "Hobbies")
	assert.Contains(t, names, "Donations")
}

func TestBuildEngineMissingVocabulary(t *testing.T) {
	logger, repo := testSetup(t)
	cfg := baseConfig()
	cfg.CategoriesFile = filepath.Join(t.TempDir(), "nope.yaml")

	_, err := BuildEngine(context.Background(), logger, cfg, repo, nil)
	assert.Error(t, err)
}

func TestNewClassifierSelection(t *testing.T) {
	logger, _ := testSetup(t)
	ctx := context.Background()

	cfg := baseConfig()
	cfg.Classifier = "none"
	c, err := NewClassifier(ctx, logger, cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	cfg.Classifier = "keyword"
	c, err = NewClassifier(ctx, logger, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "keyword", c.Name())

	cfg.Classifier = "openai"
	cfg.OpenAIAPIKey = ""
	_, err = NewClassifier(ctx, logger, cfg, nil)
	assert.Error(t, err)

	cfg.OpenAIAPIKey = "sk-test"
	cfg.OpenAIModel = ""
	c, err = NewClassifier(ctx, logger, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-4o-mini", c.Name())
}

func TestJoinNotes(t *testing.T) {
	assert.Equal(t, "a\nb", joinNotes(" a ", "", "b"))
	assert.Equal(t, "", joinNotes("", "  "))
}
