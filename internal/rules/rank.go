package rules

import "github.com/houfu/lavender-ledger/internal/core"

// Candidate pairs a stored rule with its compiled pattern.
type Candidate struct {
	Rule    core.Rule
	Pattern Pattern
}

// Less reports whether a outranks b when both match the same merchant.
// The order is total: human-confirmed first, then higher confidence, fewer
// wildcards, longer literal prefix, more recent use, and finally lower id.
func Less(a, b Candidate) bool {
	if a.Rule.UserConfirmed != b.Rule.UserConfirmed {
		return a.Rule.UserConfirmed
	}
	if a.Rule.Confidence != b.Rule.Confidence {
		return a.Rule.Confidence > b.Rule.Confidence
	}
	if wa, wb := a.Pattern.Wildcards(), b.Pattern.Wildcards(); wa != wb {
		return wa < wb
	}
	if pa, pb := a.Pattern.LiteralPrefixLen(), b.Pattern.LiteralPrefixLen(); pa != pb {
		return pa > pb
	}
	switch la, lb := a.Rule.LastUsed, b.Rule.LastUsed; {
	case la != nil && lb == nil:
		return true
	case la == nil && lb != nil:
		return false
	case la != nil && lb != nil && !la.Equal(*lb):
		return la.After(*lb)
	}
	return a.Rule.ID < b.Rule.ID
}
