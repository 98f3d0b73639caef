package core

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	storeNumberRe = regexp.MustCompile(`\s*#\s*\d+`)
	trailingRefRe = regexp.MustCompile(`\s+\d{4,}$`)
	posPrefixRe   = regexp.MustCompile(`^(?i)(sq \*|tst\* |pos |paypal \*)`)
	spacesRe      = regexp.MustCompile(`\s+`)
)

// NormalizeMerchant turns raw statement text ("WHOLEFDS MKTPL #12345") into a
// display form ("Wholefds Mktpl"). The raw text stays the dedup key.
func NormalizeMerchant(raw string) string {
	s := strings.TrimSpace(raw)
	s = posPrefixRe.ReplaceAllString(s, "")
	s = storeNumberRe.ReplaceAllString(s, "")
	s = trailingRefRe.ReplaceAllString(s, "")
	s = spacesRe.ReplaceAllString(strings.TrimSpace(s), " ")
	if s == "" {
		return strings.TrimSpace(raw)
	}
	return cases.Title(language.English).String(strings.ToLower(s))
}

// SuggestPattern proposes a prefix rule pattern for a raw merchant, the
// default offered when a reviewer promotes a decision to a rule.
func SuggestPattern(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = storeNumberRe.ReplaceAllString(s, "")
	s = trailingRefRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return s + "*"
}
