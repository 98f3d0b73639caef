package rules

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/houfu/lavender-ledger/internal/cache"
	"github.com/houfu/lavender-ledger/internal/core"
)

const matchCacheSize = 4096

// Matcher is an immutable snapshot of the active rules, built once per run.
// Rules created or retired after NewMatcher are not visible to it.
type Matcher struct {
	policy     core.Policy
	candidates []Candidate
	skipped    int

	// merchant (upper-cased) -> indices of candidates whose pattern matches
	hits *cache.LRU[string, []int]
}

// NewMatcher compiles the active rules in rank order. Rules whose stored
// pattern does not compile are logged and left out.
func NewMatcher(rules []core.Rule, policy core.Policy) *Matcher {
	m := &Matcher{
		policy: policy,
		hits:   cache.NewLRU[string, []int](matchCacheSize, 0),
	}
	for _, r := range rules {
		if !r.Active(policy.RetirementThreshold) {
			m.skipped++
			continue
		}
		p, err := Compile(r.Pattern)
		if err != nil {
			slog.Warn("Skipping rule with invalid pattern", "rule_id", r.ID, "pattern", r.Pattern, "error", err)
			m.skipped++
			continue
		}
		m.candidates = append(m.candidates, Candidate{Rule: r, Pattern: p})
	}
	slices.SortStableFunc(m.candidates, func(a, b Candidate) int {
		switch {
		case Less(a, b):
			return -1
		case Less(b, a):
			return 1
		}
		return 0
	})
	return m
}

// Match returns the best-ranked active rule whose pattern and filters accept
// the transaction. It never writes.
func (m *Matcher) Match(merchant string, amount decimal.Decimal, accountType core.AccountType) (core.Rule, bool) {
	for _, i := range m.patternHits(merchant) {
		c := m.candidates[i]
		if Filter(c.Rule, amount, accountType) {
			return c.Rule, true
		}
	}
	return core.Rule{}, false
}

// Filter applies the conjunctive amount range and account type constraints.
// The range is checked against the expense magnitude, so a -45.23 purchase
// falls within [0, 50].
func Filter(r core.Rule, amount decimal.Decimal, accountType core.AccountType) bool {
	spent := core.ExpenseMagnitude(amount)
	if r.MinAmount != nil && spent.LessThan(*r.MinAmount) {
		return false
	}
	if r.MaxAmount != nil && spent.GreaterThan(*r.MaxAmount) {
		return false
	}
	if r.AccountType != nil && *r.AccountType != accountType {
		return false
	}
	return true
}

// Rules returns the active rules in rank order.
func (m *Matcher) Rules() []core.Rule {
	out := make([]core.Rule, len(m.candidates))
	for i, c := range m.candidates {
		out[i] = c.Rule
	}
	return out
}

// Len is the number of active rules in the snapshot.
func (m *Matcher) Len() int { return len(m.candidates) }

// Skipped counts retired or uncompilable rules left out of the snapshot.
func (m *Matcher) Skipped() int { return m.skipped }

// CacheStats exposes the merchant memo counters for run logging.
func (m *Matcher) CacheStats() cache.Stats { return m.hits.Stats() }

func (m *Matcher) patternHits(merchant string) []int {
	key := strings.ToUpper(strings.TrimSpace(merchant))
	if idx, ok := m.hits.Get(key); ok {
		return idx
	}
	var idx []int
	for i, c := range m.candidates {
		if c.Pattern.Match(key) {
			idx = append(idx, i)
		}
	}
	m.hits.Set(key, idx)
	return idx
}
