package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houfu/lavender-ledger/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func createAccount(t *testing.T, q *Queries, name string) core.Account {
	t.Helper()
	ctx := context.Background()
	_, err := q.CreateAccountIfAbsent(ctx, core.AccountDescriptor{Name: name, Type: core.AccountCard}, time.Now())
	require.NoError(t, err)
	a, err := q.GetAccountByName(ctx, name)
	require.NoError(t, err)
	return a
}

func TestMigrationsSeedCategories(t *testing.T) {
	repo := newTestRepo(t)
	n, err := repo.Queries().CountCategories(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 26, n)
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	first, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Ping(context.Background()))
}

func TestAccountNameIsUnique(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	q := repo.Queries()

	d := core.AccountDescriptor{Name: "VISA 3347", Type: core.AccountCard, LastFour: "3347"}
	created, err := q.CreateAccountIfAbsent(ctx, d, time.Now())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = q.CreateAccountIfAbsent(ctx, d, time.Now())
	require.NoError(t, err)
	assert.False(t, created)

	accounts, err := q.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
	assert.True(t, accounts[0].Active)

	_, err = q.GetAccountByName(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestStatementCompoundKey(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	q := repo.Queries()
	visa := createAccount(t, q, "VISA 3347")
	mc := createAccount(t, q, "MASTERCARD 9390")

	params := InsertStatementParams{
		AccountID:     visa.ID,
		StatementDate: core.NewDate(2024, 12, 31),
		SourcePath:    "statements/dec.pdf",
		FileHash:      "abc123",
		ProcessedAt:   time.Now(),
	}
	_, err := q.InsertStatement(ctx, params)
	require.NoError(t, err)

	_, err = q.InsertStatement(ctx, params)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	params.AccountID = mc.ID
	_, err = q.InsertStatement(ctx, params)
	require.NoError(t, err)

	stmts, err := q.ListStatementsByHash(ctx, "abc123")
	require.NoError(t, err)
	assert.Len(t, stmts, 2)

	ok, err := q.StatementExistsForAccount(ctx, "abc123", visa.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = q.StatementExists(ctx, "other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransactionInsertOrSkip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	q := repo.Queries()
	acct := createAccount(t, q, "VISA 3347")

	rec, verr := core.Record{Date: "2024-12-01", Amount: "-45.23", Merchant: "WHOLEFDS MKTPL #12345"}.Validate(0)
	require.Nil(t, verr)

	inserted, err := q.InsertTransaction(ctx, InsertTransactionParams{AccountID: acct.ID, Record: rec, Now: time.Now()})
	require.NoError(t, err)
	assert.True(t, inserted)

	stored, err := q.GetTransactionByKey(ctx, acct.ID, rec.Date, rec.Amount, rec.MerchantOriginal)
	require.NoError(t, err)
	_, err = q.UpdateCategorization(ctx, UpdateCategorizationParams{ID: stored.ID, Category: "Groceries", Confidence: 0.95, Now: time.Now()})
	require.NoError(t, err)

	rec.Description = "different non-key field"
	inserted, err = q.InsertTransaction(ctx, InsertTransactionParams{AccountID: acct.ID, Record: rec, Now: time.Now()})
	require.NoError(t, err)
	assert.False(t, inserted)

	after, err := q.GetTransaction(ctx, stored.ID)
	require.NoError(t, err)
	require.NotNil(t, after.Category)
	assert.Equal(t, "Groceries", *after.Category)
	assert.Equal(t, "", after.Description)
	assert.Equal(t, core.AccountCard, after.AccountType)
	assert.True(t, after.Amount.Equal(decimal.RequireFromString("-45.23")))
}

func TestRuleCountersAndAccuracy(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	q := repo.Queries()

	created, err := q.InsertRuleIfAbsent(ctx, core.Rule{Pattern: "UBER*", Category: "Transportation", Confidence: 0.9, Kind: core.RuleKindPattern}, time.Now())
	require.NoError(t, err)
	require.True(t, created)

	created, err = q.InsertRuleIfAbsent(ctx, core.Rule{Pattern: "uber*", Category: "Dining & Restaurants", Confidence: 0.5, Kind: core.RuleKindPattern}, time.Now())
	require.NoError(t, err)
	assert.False(t, created, "patterns are unique regardless of case")

	rule, err := q.GetRuleByPattern(ctx, "UBER*")
	require.NoError(t, err)
	assert.Nil(t, rule.Accuracy)

	for i := 0; i < 3; i++ {
		_, err = q.MarkRuleUsed(ctx, rule.ID, time.Now())
		require.NoError(t, err)
	}
	_, err = q.RejectRule(ctx, rule.ID)
	require.NoError(t, err)

	rule, err = q.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rule.TimesApplied)
	assert.EqualValues(t, 1, rule.TimesRejected)
	require.NotNil(t, rule.Accuracy)
	assert.InDelta(t, 2.0/3.0, *rule.Accuracy, 1e-9)
	assert.NotNil(t, rule.LastUsed)

	_, err = q.ConfirmRule(ctx, rule.ID, time.Now())
	require.NoError(t, err)
	rule, err = q.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.InDelta(t, 3.0/4.0, *rule.Accuracy, 1e-9)
}

func TestMergeConfirmedRule(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	q := repo.Queries()

	_, err := q.InsertRuleIfAbsent(ctx, core.Rule{Pattern: "AMZN*", Category: "Shopping", Confidence: 0.9, Kind: core.RuleKindPattern, AutoCreated: true}, time.Now())
	require.NoError(t, err)

	ceiling := decimal.NewFromInt(20)
	require.NoError(t, q.MergeConfirmedRule(ctx, core.Rule{Pattern: "AMZN*", Category: "Subscriptions", Confidence: 0.8, Kind: core.RuleKindConditional, MaxAmount: &ceiling}))

	rule, err := q.GetRuleByPattern(ctx, "AMZN*")
	require.NoError(t, err)
	assert.Equal(t, "Subscriptions", rule.Category)
	assert.InDelta(t, 0.9, rule.Confidence, 1e-9)
	assert.True(t, rule.UserConfirmed)
	assert.True(t, rule.AutoCreated)
	assert.Equal(t, core.RuleKindConditional, rule.Kind)
	require.NotNil(t, rule.MaxAmount)
	assert.True(t, rule.MaxAmount.Equal(ceiling))
}

func TestRunFinalizedOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	q := repo.Queries()

	id, err := q.CreateRun(ctx, time.Now())
	require.NoError(t, err)

	n, err := q.FinalizeRun(ctx, FinalizeRunParams{
		ID: id, Status: core.RunCompleted, CompletedAt: time.Now(),
		Counts: core.RunCounts{FilesProcessed: 2, TransactionsAdded: 5}, Errors: []string{"bad.json: malformed"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = q.FinalizeRun(ctx, FinalizeRunParams{ID: id, Status: core.RunFailed, CompletedAt: time.Now()})
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	run, err := q.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, run.Status)
	assert.Equal(t, 5, run.TransactionsAdded)
	assert.Equal(t, []string{"bad.json: malformed"}, run.Errors)
	assert.NotNil(t, run.CompletedAt)
}

func TestInTxRollsBack(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.InTx(ctx, func(q *Queries) error {
		if _, err := q.CreateAccountIfAbsent(ctx, core.AccountDescriptor{Name: "CHK", Type: core.AccountChecking}, time.Now()); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = repo.Queries().GetAccountByName(ctx, "CHK")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
