package classify

import (
	"context"
	"strings"

	"github.com/houfu/lavender-ledger/internal/vocab"
)

const (
	keywordPrefixConfidence   = 0.9
	keywordContainsConfidence = 0.75
)

// KeywordClassifier is the offline fallback: it looks for vocabulary keywords
// in the merchant and description. A keyword that starts the merchant is
// strong enough to suggest a prefix rule; one found elsewhere is not.
type KeywordClassifier struct {
	entries []vocab.Entry
}

func NewKeywordClassifier(entries []vocab.Entry) *KeywordClassifier {
	return &KeywordClassifier{entries: entries}
}

func (k *KeywordClassifier) Name() string { return "keyword" }

func (k *KeywordClassifier) Classify(ctx context.Context, req Request) ([]Result, error) {
	allowed := make(map[string]bool, len(req.Categories))
	for _, c := range req.Categories {
		allowed[c] = true
	}

	var out []Result
	for _, item := range req.Items {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if r, ok := k.classifyOne(item, allowed); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (k *KeywordClassifier) classifyOne(item Item, allowed map[string]bool) (Result, bool) {
	merchant := strings.ToUpper(strings.TrimSpace(item.Merchant))
	text := merchant + " " + strings.ToUpper(item.Description)

	var fallback *Result
	for _, e := range k.entries {
		if len(allowed) > 0 && !allowed[e.Name] {
			continue
		}
		for _, kw := range e.Keywords {
			kw = strings.ToUpper(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if strings.HasPrefix(merchant, kw) {
				return Result{
					TransactionID:    item.TransactionID,
					Category:         e.Name,
					Confidence:       keywordPrefixConfidence,
					SuggestedPattern: kw + "*",
					Reasoning:        "merchant starts with keyword " + kw,
				}, true
			}
			if fallback == nil && strings.Contains(text, kw) {
				fallback = &Result{
					TransactionID: item.TransactionID,
					Category:      e.Name,
					Confidence:    keywordContainsConfidence,
					Reasoning:     "keyword " + kw + " found in transaction text",
				}
			}
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Result{}, false
}
