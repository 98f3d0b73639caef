package rules

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houfu/lavender-ledger/internal/core"
)

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr[T any](v T) *T { return &v }

func TestLessTieBreakOrder(t *testing.T) {
	older := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)

	cand := func(r core.Rule) Candidate { return Candidate{Rule: r, Pattern: MustCompile(r.Pattern)} }

	cases := []struct {
		name string
		a, b Candidate
	}{
		{"human-confirmed outranks an otherwise-equal auto-created rule",
			cand(core.Rule{ID: 9, Pattern: "UBER*", Confidence: 0.9, UserConfirmed: true}),
			cand(core.Rule{ID: 1, Pattern: "UBER*", Confidence: 0.9, AutoCreated: true})},
		{"human-confirmed outranks higher confidence",
			cand(core.Rule{ID: 2, Pattern: "UBER*", Confidence: 0.5, UserConfirmed: true}),
			cand(core.Rule{ID: 1, Pattern: "UBER*", Confidence: 0.99})},
		{"higher confidence",
			cand(core.Rule{ID: 2, Pattern: "*UBER*", Confidence: 0.95}),
			cand(core.Rule{ID: 1, Pattern: "UBER EATS", Confidence: 0.9})},
		{"fewer wildcards",
			cand(core.Rule{ID: 2, Pattern: "UBER EATS*", Confidence: 0.9}),
			cand(core.Rule{ID: 1, Pattern: "*UBER EATS*", Confidence: 0.9})},
		{"longer literal prefix",
			cand(core.Rule{ID: 2, Pattern: "UBER EATS*", Confidence: 0.9}),
			cand(core.Rule{ID: 1, Pattern: "UBER*", Confidence: 0.9})},
		{"more recently used",
			cand(core.Rule{ID: 2, Pattern: "UBER*", Confidence: 0.9, LastUsed: &newer}),
			cand(core.Rule{ID: 1, Pattern: "UBEX*", Confidence: 0.9, LastUsed: &older})},
		{"used beats never used",
			cand(core.Rule{ID: 2, Pattern: "UBER*", Confidence: 0.9, LastUsed: &older}),
			cand(core.Rule{ID: 1, Pattern: "UBEX*", Confidence: 0.9})},
		{"lower id as final tie-break",
			cand(core.Rule{ID: 1, Pattern: "UBER*", Confidence: 0.9}),
			cand(core.Rule{ID: 2, Pattern: "UBEX*", Confidence: 0.9})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, Less(tc.a, tc.b))
			assert.False(t, Less(tc.b, tc.a))
		})
	}
}

func TestMatcherPicksBestRankedRule(t *testing.T) {
	policy := core.DefaultPolicy()
	m := NewMatcher([]core.Rule{
		{ID: 1, Pattern: "*UBER*", Category: "Transportation", Confidence: 0.8},
		{ID: 2, Pattern: "UBER EATS*", Category: "Dining & Restaurants", Confidence: 0.8},
		{ID: 3, Pattern: "UBER*", Category: "Transportation", Confidence: 0.8, AutoCreated: true},
	}, policy)

	r, ok := m.Match("UBER EATS PENDING", amount("-23.10"), core.AccountCard)
	require.True(t, ok)
	assert.EqualValues(t, 2, r.ID)

	r, ok = m.Match("UBER TRIP", amount("-9"), core.AccountCard)
	require.True(t, ok)
	assert.EqualValues(t, 3, r.ID)

	_, ok = m.Match("LYFT", amount("-9"), core.AccountCard)
	assert.False(t, ok)

	// second lookup of the same merchant is served from the memo
	_, _ = m.Match("uber trip", amount("-9"), core.AccountCard)
	assert.EqualValues(t, 1, m.CacheStats().Hits)
}

func TestMatcherFilters(t *testing.T) {
	m := NewMatcher([]core.Rule{
		{ID: 1, Pattern: "AMZN*", Category: "Subscriptions", Confidence: 0.9, UserConfirmed: true,
			Kind: core.RuleKindConditional, MaxAmount: ptr(amount("20"))},
		{ID: 2, Pattern: "AMZN*", Category: "Shopping", Confidence: 0.8},
		{ID: 3, Pattern: "TRANSFER*", Category: "Transfer", Confidence: 0.9,
			AccountType: ptr(core.AccountChecking), MinAmount: ptr(amount("100"))},
	}, core.DefaultPolicy())

	r, ok := m.Match("AMZN PRIME", amount("-14.99"), core.AccountCard)
	require.True(t, ok)
	assert.Equal(t, "Subscriptions", r.Category)

	r, ok = m.Match("AMZN MKTP", amount("-89.00"), core.AccountCard)
	require.True(t, ok)
	assert.Equal(t, "Shopping", r.Category)

	_, ok = m.Match("TRANSFER TO SAVINGS", amount("-500"), core.AccountCard)
	assert.False(t, ok, "account type filter")
	_, ok = m.Match("TRANSFER TO SAVINGS", amount("-50"), core.AccountChecking)
	assert.False(t, ok, "min amount filter")
	_, ok = m.Match("TRANSFER TO SAVINGS", amount("-500"), core.AccountChecking)
	assert.True(t, ok)
}

func TestMatcherExcludesRetiredRules(t *testing.T) {
	retired, fine := 0.2, 0.3
	m := NewMatcher([]core.Rule{
		{ID: 1, Pattern: "SHELL*", Category: "Gas & Fuel", Confidence: 0.99, UserConfirmed: true, Accuracy: &retired},
		{ID: 2, Pattern: "SHELL*", Category: "Convenience", Confidence: 0.5, Accuracy: &fine},
		{ID: 3, Pattern: "***", Category: "Broken", Confidence: 1},
	}, core.DefaultPolicy())

	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 2, m.Skipped())
	r, ok := m.Match("SHELL OIL 5512", amount("-40"), core.AccountCard)
	require.True(t, ok)
	assert.EqualValues(t, 2, r.ID)
}

type countingStore struct {
	mu       sync.Mutex
	applied  map[int64]int
	inFlight map[int64]*atomic.Int32
	maxSeen  atomic.Int32
	fail     error
}

func newCountingStore() *countingStore {
	return &countingStore{applied: map[int64]int{}, inFlight: map[int64]*atomic.Int32{}}
}

func (s *countingStore) enter(id int64) func() {
	s.mu.Lock()
	c, ok := s.inFlight[id]
	if !ok {
		c = &atomic.Int32{}
		s.inFlight[id] = c
	}
	s.mu.Unlock()
	if n := c.Add(1); n > s.maxSeen.Load() {
		s.maxSeen.Store(n)
	}
	return func() { c.Add(-1) }
}

func (s *countingStore) MarkRuleUsed(_ context.Context, id int64, _ time.Time) (int64, error) {
	defer s.enter(id)()
	if s.fail != nil {
		return 0, s.fail
	}
	if id == 404 {
		return 0, nil
	}
	time.Sleep(time.Millisecond)
	s.mu.Lock()
	s.applied[id]++
	s.mu.Unlock()
	return 1, nil
}

func (s *countingStore) ConfirmRule(ctx context.Context, id int64, now time.Time) (int64, error) {
	return s.MarkRuleUsed(ctx, id, now)
}

func (s *countingStore) RejectRule(_ context.Context, id int64) (int64, error) {
	defer s.enter(id)()
	return 1, nil
}

func TestRecorderSerializesPerRule(t *testing.T) {
	store := newCountingStore()
	rec := NewRecorder(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, rec.MarkUsed(ctx, int64(i%2+1)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, store.applied[1])
	assert.Equal(t, 20, store.applied[2])
	assert.EqualValues(t, 1, store.maxSeen.Load(), "one writer per rule at a time")
	assert.Equal(t, 0, rec.locks.Held())
}

func TestRecorderErrors(t *testing.T) {
	store := newCountingStore()
	rec := NewRecorder(store)
	ctx := context.Background()

	err := rec.MarkUsed(ctx, 404)
	assert.ErrorIs(t, err, core.ErrNotFound)

	store.fail = errors.New("database is locked")
	err = rec.Confirm(ctx, 1)
	assert.True(t, core.IsStorage(err))
	assert.NoError(t, rec.Reject(ctx, 1))
}
