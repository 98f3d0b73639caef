// Package classify defines the batch classification capability used for
// transactions no rule could categorize, and the clients that implement it.
package classify

import (
	"context"

	"github.com/houfu/lavender-ledger/internal/core"
)

//go:generate mockgen -source=classifier.go -destination=classifier_mock.go -package=classify

// Classifier categorizes a batch of transactions in one call. Results may
// cover only part of the batch; missing ids stay uncategorized.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, req Request) ([]Result, error)
}

// Item is one transaction as the classifier sees it.
type Item struct {
	TransactionID int64  `json:"transaction_id"`
	Date          string `json:"date"`
	Merchant      string `json:"merchant"`
	Amount        string `json:"amount"`
	AccountType   string `json:"account_type"`
	Description   string `json:"description,omitempty"`
}

// RuleHint is an existing rule passed along as context.
type RuleHint struct {
	Pattern  string `json:"pattern"`
	Category string `json:"category"`
}

type Request struct {
	Items      []Item
	Categories []string
	Rules      []RuleHint
	Notes      string
}

// Result is one categorization. SuggestedPattern is a glob the classifier
// believes would categorize similar merchants.
type Result struct {
	TransactionID    int64   `json:"transaction_id"`
	Category         string  `json:"category"`
	Confidence       float64 `json:"confidence"`
	SuggestedPattern string  `json:"rule_pattern,omitempty"`
	Reasoning        string  `json:"reasoning,omitempty"`
}

// Response is the document every client expects back.
type Response struct {
	Categorizations []Result `json:"categorizations"`
}

func NewItem(t core.Transaction) Item {
	return Item{
		TransactionID: t.ID,
		Date:          t.Date.String(),
		Merchant:      t.MerchantOriginal,
		Amount:        core.AmountKey(t.Amount),
		AccountType:   string(t.AccountType),
		Description:   t.Description,
	}
}

// HintsFromRules keeps at most limit rules, in the order given.
func HintsFromRules(rules []core.Rule, limit int) []RuleHint {
	if limit > 0 && len(rules) > limit {
		rules = rules[:limit]
	}
	out := make([]RuleHint, 0, len(rules))
	for _, r := range rules {
		out = append(out, RuleHint{Pattern: r.Pattern, Category: r.Category})
	}
	return out
}
