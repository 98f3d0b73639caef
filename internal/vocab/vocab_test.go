package vocab

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houfu/lavender-ledger/internal/core"
	"github.com/houfu/lavender-ledger/internal/storage"
)

func TestLoad(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "categories.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []string{"Groceries", "Transportation", "Pet Care", "Salary"}, f.Names())
	assert.Equal(t, KindExpense, f.Entries[1].Kind, "kind defaults to expense")
	assert.Equal(t, []string{"CHEWY", "PETCO"}, f.Entries[2].Keywords)
	assert.Contains(t, f.Notes, "Costco")
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"empty name":   "categories:\n  - name: ' '\n",
		"bad kind":     "categories:\n  - name: Travel\n    kind: liability\n",
		"duplicate":    "categories:\n  - name: Travel\n  - name: travel\n",
		"invalid yaml": "categories: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

type failingSource struct{}

func (failingSource) Name() string { return "sheet" }
func (failingSource) Categories(context.Context) ([]core.Category, error) {
	return nil, errors.New("quota exceeded")
}

type staticSource []core.Category

func (staticSource) Name() string { return "sheet" }
func (s staticSource) Categories(context.Context) ([]core.Category, error) {
	return s, nil
}

func TestSyncAddsOnlyNewNames(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "vocab.db"))
	require.NoError(t, err)
	defer repo.Close()
	ctx := context.Background()
	q := repo.Queries()

	f, err := Load(filepath.Join("testdata", "categories.yaml"))
	require.NoError(t, err)

	sheet := staticSource{{Name: "Charity", Kind: "other"}, {Name: "Pet Care"}}
	added, err := Sync(ctx, q, f, sheet)
	require.NoError(t, err)
	assert.Equal(t, 2, added, "Pet Care and Charity are new, the rest is seeded")

	added, err = Sync(ctx, q, f, sheet)
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	names, err := Names(ctx, q)
	require.NoError(t, err)
	assert.Contains(t, names, "Pet Care")
	assert.Contains(t, names, "Charity")
	assert.Len(t, names, 28)

	_, err = Sync(ctx, q, f, failingSource{})
	assert.ErrorContains(t, err, "quota exceeded")
}
