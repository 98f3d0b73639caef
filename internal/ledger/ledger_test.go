package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houfu/lavender-ledger/internal/core"
	"github.com/houfu/lavender-ledger/internal/storage"
)

type fixture struct {
	repo    *storage.SQLiteRepository
	ledger  *Ledger
	account core.Account
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	_, err = repo.Queries().CreateAccountIfAbsent(ctx, core.AccountDescriptor{Name: "VISA 3347", Type: core.AccountCard}, time.Now())
	require.NoError(t, err)
	acct, err := repo.Queries().GetAccountByName(ctx, "VISA 3347")
	require.NoError(t, err)

	return fixture{repo: repo, ledger: New(repo.Queries(), core.DefaultPolicy()), account: acct}
}

func (f fixture) idOf(t *testing.T, date, amount, merchant string) int64 {
	t.Helper()
	vr, verr := core.Record{Date: date, Amount: amount, Merchant: merchant}.Validate(0)
	require.Nil(t, verr)
	tx, err := f.repo.Queries().GetTransactionByKey(context.Background(), f.account.ID, vr.Date, vr.Amount, vr.MerchantOriginal)
	require.NoError(t, err)
	return tx.ID
}

func TestInsertBatchDuplicatesRegardlessOfOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.repo.Queries()

	first := []core.Record{
		{Date: "2024-12-01", Amount: "-45.23", Merchant: "WHOLEFDS MKTPL #12345", Description: "groceries"},
		{Date: "2024-12-02", Amount: "-12.00", Merchant: "UBER TRIP"},
	}
	res, err := f.ledger.InsertBatch(ctx, q, nil, f.account.ID, first)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 0, res.Duplicates)

	second := []core.Record{
		{Date: "2024-12-02", Amount: "-12.00", Merchant: "UBER TRIP", Description: "another description", Kind: "expense"},
		{Date: "2024-12-01", Amount: "-45.23", Merchant: "WHOLEFDS MKTPL #12345"},
		{Date: "2024-12-03", Amount: "2500", Merchant: "ACME PAYROLL", Kind: "income"},
	}
	res, err = f.ledger.InsertBatch(ctx, q, nil, f.account.ID, second)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 2, res.Duplicates)

	n, err := q.CountTransactions(ctx, f.account.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestInsertBatchRejectsMalformedIndividually(t *testing.T) {
	f := newFixture(t)
	records := []core.Record{
		{Date: "2024-12-01", Amount: "-1.00", Merchant: "OK ONE"},
		{Date: "not a date", Amount: "-1.00", Merchant: "BAD DATE"},
		{Date: "2024-12-01", Amount: "lots", Merchant: "BAD AMOUNT"},
		{Date: "2024-12-01", Amount: "-1.00", Merchant: ""},
		{Date: "2024-12-01", Amount: "-2.00", Merchant: "OK TWO"},
	}
	res, err := f.ledger.InsertBatch(context.Background(), f.repo.Queries(), nil, f.account.ID, records)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	require.Len(t, res.Rejected, 3)
	assert.Equal(t, []string{"date", "amount", "merchant"},
		[]string{res.Rejected[0].Field, res.Rejected[1].Field, res.Rejected[2].Field})
	assert.Equal(t, 1, res.Rejected[0].Index)
}

func TestInsertBatchConcurrentSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := []core.Record{{Date: "2024-12-01", Amount: "-45.23", Merchant: "WHOLEFDS MKTPL #12345"}}

	const workers = 6
	results := make([]BatchResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.repo.InTx(ctx, func(q *storage.Queries) error {
				var err error
				results[i], err = f.ledger.InsertBatch(ctx, q, nil, f.account.ID, rec)
				return err
			})
		}(i)
	}
	wg.Wait()

	inserted, dups := 0, 0
	for i := range results {
		require.NoError(t, errs[i])
		inserted += results[i].Inserted
		dups += results[i].Duplicates
	}
	assert.Equal(t, 1, inserted)
	assert.Equal(t, workers-1, dups)
}

func TestApplyCategorizationThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.repo.Queries()
	_, err := f.ledger.InsertBatch(ctx, q, nil, f.account.ID, []core.Record{
		{Date: "2024-12-01", Amount: "-5", Merchant: "A"},
		{Date: "2024-12-01", Amount: "-5", Merchant: "B"},
		{Date: "2024-12-01", Amount: "-5", Merchant: "C"},
	})
	require.NoError(t, err)

	a, b, c := f.idOf(t, "2024-12-01", "-5", "A"), f.idOf(t, "2024-12-01", "-5", "B"), f.idOf(t, "2024-12-01", "-5", "C")
	no := false

	cases := []struct {
		cat     Categorization
		flagged bool
	}{
		{Categorization{TransactionID: a, Category: "Groceries", Confidence: 0.69}, true},
		{Categorization{TransactionID: b, Category: "Groceries", Confidence: 0.70}, false},
		{Categorization{TransactionID: c, Category: "Groceries", Confidence: 0.2, FlaggedOverride: &no}, false},
	}
	for _, tc := range cases {
		flagged, err := f.ledger.ApplyCategorization(ctx, q, tc.cat)
		require.NoError(t, err)
		assert.Equal(t, tc.flagged, flagged)
		stored, err := q.GetTransaction(ctx, tc.cat.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, tc.flagged, stored.Flagged)
	}

	flagged, err := f.ledger.ApplyCategorization(ctx, q, Categorization{TransactionID: a, Category: "Groceries", Confidence: 7})
	require.NoError(t, err)
	assert.False(t, flagged)
	stored, err := q.GetTransaction(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1.0, *stored.Confidence)

	_, err = f.ledger.ApplyCategorization(ctx, q, Categorization{TransactionID: 9999, Category: "Groceries", Confidence: 1})
	assert.True(t, IsNotFound(err))
	_, err = f.ledger.ApplyCategorization(ctx, q, Categorization{TransactionID: a, Category: " "})
	assert.ErrorIs(t, err, core.ErrEmptyCategory)
}

func TestListingsAreLazyAndRestartable(t *testing.T) {
	f := newFixture(t)
	f.ledger.pageSize = 2
	ctx := context.Background()
	q := f.repo.Queries()

	var recs []core.Record
	for i, d := range []string{"2024-12-01", "2024-12-02", "2024-12-03", "2024-12-04", "2024-12-05"} {
		recs = append(recs, core.Record{Date: d, Amount: "-1", Merchant: string(rune('A' + i))})
	}
	_, err := f.ledger.InsertBatch(ctx, q, nil, f.account.ID, recs)
	require.NoError(t, err)

	all, err := Collect(f.ledger.ListUncategorized(ctx), 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	again, err := Collect(f.ledger.ListUncategorized(ctx), 0)
	require.NoError(t, err)
	assert.Equal(t, all, again)

	for _, tx := range all[:3] {
		_, err := f.ledger.ApplyCategorization(ctx, q, Categorization{TransactionID: tx.ID, Category: "Shopping", Confidence: 0.4})
		require.NoError(t, err)
	}
	_, err = f.ledger.ApplyCategorization(ctx, q, Categorization{TransactionID: all[3].ID, Category: core.Uncategorized, Confidence: 0.1})
	require.NoError(t, err)

	flagged, err := Collect(f.ledger.ListFlagged(ctx), 0)
	require.NoError(t, err)
	require.Len(t, flagged, 4)
	assert.Equal(t, "2024-12-04", flagged[0].Date.String())
	assert.Equal(t, "2024-12-01", flagged[3].Date.String())

	uncategorized, err := Collect(f.ledger.ListUncategorized(ctx), 0)
	require.NoError(t, err)
	assert.Len(t, uncategorized, 2, "Uncategorized counts as unset")

	firstTwo, err := Collect(f.ledger.ListFlagged(ctx), 2)
	require.NoError(t, err)
	assert.Len(t, firstTwo, 2)
}
