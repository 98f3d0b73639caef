package core

import (
	"fmt"
	"time"
)

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type RunStatus string

// IngestionRun is the audit record of one batch ingestion attempt.
type IngestionRun struct {
	ID                      int64
	StartedAt               time.Time
	CompletedAt             *time.Time
	Status                  RunStatus
	FilesProcessed          int
	TransactionsAdded       int
	TransactionsUpdated     int
	Duplicates              int
	Rejected                int
	Flagged                 int
	CategorizedByRule       int
	CategorizedByClassifier int
	Errors                  []string
	Summary                 string
}

// RunCounts aggregates what a run did. Safe to merge from parallel units
// only under the caller's lock.
type RunCounts struct {
	FilesProcessed          int
	TransactionsAdded       int
	TransactionsUpdated     int
	Duplicates              int
	Rejected                int
	Flagged                 int
	CategorizedByRule       int
	CategorizedByClassifier int
}

func (c *RunCounts) Add(o RunCounts) {
	c.FilesProcessed += o.FilesProcessed
	c.TransactionsAdded += o.TransactionsAdded
	c.TransactionsUpdated += o.TransactionsUpdated
	c.Duplicates += o.Duplicates
	c.Rejected += o.Rejected
	c.Flagged += o.Flagged
	c.CategorizedByRule += o.CategorizedByRule
	c.CategorizedByClassifier += o.CategorizedByClassifier
}

// Summary renders the counts a user sees at the end of a run.
func (c RunCounts) Summary(errCount int) string {
	return fmt.Sprintf("processed=%d added=%d duplicate=%d rejected=%d by_rule=%d by_classifier=%d flagged=%d errored=%d",
		c.FilesProcessed, c.TransactionsAdded, c.Duplicates, c.Rejected,
		c.CategorizedByRule, c.CategorizedByClassifier, c.Flagged, errCount)
}

func (r IngestionRun) Finished() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}
