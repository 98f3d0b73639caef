package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houfu/lavender-ledger/internal/core"
	"github.com/houfu/lavender-ledger/internal/fingerprint"
	"github.com/houfu/lavender-ledger/internal/storage"
)

func newRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestGetOrCreateAccountIsIdempotent(t *testing.T) {
	repo := newRepo(t)
	reg := New()
	ctx := context.Background()

	d := core.AccountDescriptor{Name: "Chase Checking", Type: core.AccountChecking, Institution: "Chase", LastFour: "0001"}
	first, err := reg.GetOrCreateAccount(ctx, repo.Queries(), d)
	require.NoError(t, err)
	second, err := reg.GetOrCreateAccount(ctx, repo.Queries(), d)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = reg.GetOrCreateAccount(ctx, repo.Queries(), core.AccountDescriptor{Name: " ", Type: core.AccountChecking})
	assert.ErrorIs(t, err, core.ErrEmptyAccountName)
}

func TestGetOrCreateAccountConcurrent(t *testing.T) {
	repo := newRepo(t)
	reg := New()
	ctx := context.Background()

	const workers = 8
	ids := make([]int64, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := reg.GetOrCreateAccount(ctx, repo.Queries(), core.AccountDescriptor{Name: "VISA 3347", Type: core.AccountCard})
			ids[i], errs[i] = a.ID, err
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	accounts, err := repo.Queries().ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestConsolidatedStatement(t *testing.T) {
	repo := newRepo(t)
	reg := New()
	ctx := context.Background()
	fp := fingerprint.Compute([]byte("one consolidated pdf"))

	const n = 3
	accountIDs := make([]int64, n)
	for i := 0; i < n; i++ {
		a, err := reg.GetOrCreateAccount(ctx, repo.Queries(), core.AccountDescriptor{Name: fmt.Sprintf("Card %d", i), Type: core.AccountCard})
		require.NoError(t, err)
		accountIDs[i] = a.ID
		_, err = reg.RegisterStatement(ctx, repo.Queries(), NewStatement{
			AccountID: a.ID, Fingerprint: fp, Date: core.NewDate(2024, 12, 31), SourcePath: "consolidated.pdf",
		})
		require.NoError(t, err)
	}

	stmts, err := repo.Queries().ListStatementsByHash(ctx, fp.String())
	require.NoError(t, err)
	require.Len(t, stmts, n)
	seen := map[int64]bool{}
	for _, s := range stmts {
		assert.Equal(t, fp.String(), s.Fingerprint)
		seen[s.AccountID] = true
	}
	assert.Len(t, seen, n)

	_, err = reg.RegisterStatement(ctx, repo.Queries(), NewStatement{
		AccountID: accountIDs[1], Fingerprint: fp, Date: core.NewDate(2024, 12, 31), SourcePath: "consolidated.pdf",
	})
	var dup *core.DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "statement", dup.Entity)

	stmts, err = repo.Queries().ListStatementsByHash(ctx, fp.String())
	require.NoError(t, err)
	assert.Len(t, stmts, n)
}

func TestSameAccountDifferentFingerprintCreatesSecondStatement(t *testing.T) {
	repo := newRepo(t)
	reg := New()
	ctx := context.Background()

	a, err := reg.GetOrCreateAccount(ctx, repo.Queries(), core.AccountDescriptor{Name: "Savings", Type: core.AccountSavings})
	require.NoError(t, err)
	for _, content := range []string{"export v1", "corrected export v2"} {
		_, err := reg.RegisterStatement(ctx, repo.Queries(), NewStatement{
			AccountID: a.ID, Fingerprint: fingerprint.Compute([]byte(content)), Date: core.NewDate(2024, 11, 30), SourcePath: "nov.csv",
		})
		require.NoError(t, err)
	}
	stmts, err := repo.Queries().ListStatementsByAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, stmts, 2)
}
