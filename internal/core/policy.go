package core

import "time"

// Policy holds the confidence and batching constants of the categorization
// workflow.
type Policy struct {
	// ReviewThreshold flags categorizations below this confidence (default 0.70)
	ReviewThreshold float64

	// AutoRuleThreshold auto-creates rules from classifier output at or above this confidence (default 0.85)
	AutoRuleThreshold float64

	// RetirementThreshold excludes rules whose accuracy falls below it (default 0.30)
	RetirementThreshold float64

	// EscalationBatchSize bounds the items sent per classifier call (default 100)
	EscalationBatchSize int

	// ClassifierTimeout bounds a single classifier call (default 2m)
	ClassifierTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		ReviewThreshold:     0.70,
		AutoRuleThreshold:   0.85,
		RetirementThreshold: 0.30,
		EscalationBatchSize: 100,
		ClassifierTimeout:   2 * time.Minute,
	}
}

// NeedsReview reports whether a categorization at confidence c is flagged.
func (p Policy) NeedsReview(c float64) bool {
	return c < p.ReviewThreshold
}
