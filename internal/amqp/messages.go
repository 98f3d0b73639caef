package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/houfu/lavender-ledger/internal/core"
	"github.com/shopspring/decimal"
)

// ReviewDecisionMessage carries one reviewer verdict to the worker. The
// worker re-reads the transaction, so only the decision itself travels.
type ReviewDecisionMessage struct {
	TransactionID int64            `json:"transaction_id"`
	Action        string           `json:"action"`
	Category      string           `json:"category,omitempty"`
	Pattern       string           `json:"pattern,omitempty"`
	Confidence    float64          `json:"confidence,omitempty"`
	MinAmount     *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount     *decimal.Decimal `json:"max_amount,omitempty"`
	AccountType   string           `json:"account_type,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

func NewReviewDecisionMessage(d core.ReviewDecision) *ReviewDecisionMessage {
	msg := &ReviewDecisionMessage{
		TransactionID: d.TransactionID,
		Action:        string(d.Action),
		Category:      d.Category,
		Pattern:       d.Pattern,
		Confidence:    d.Confidence,
		MinAmount:     d.MinAmount,
		MaxAmount:     d.MaxAmount,
		Timestamp:     time.Now(),
	}
	if d.AccountType != nil {
		msg.AccountType = string(*d.AccountType)
	}
	return msg
}

// Decision converts the message back into a domain decision.
func (m *ReviewDecisionMessage) Decision() (core.ReviewDecision, error) {
	d := core.ReviewDecision{
		TransactionID: m.TransactionID,
		Action:        core.ReviewAction(m.Action),
		Category:      m.Category,
		Pattern:       m.Pattern,
		Confidence:    m.Confidence,
		MinAmount:     m.MinAmount,
		MaxAmount:     m.MaxAmount,
	}
	if m.AccountType != "" {
		at, err := core.ParseAccountType(m.AccountType)
		if err != nil {
			return core.ReviewDecision{}, fmt.Errorf("decode account type: %w", err)
		}
		d.AccountType = &at
	}
	return d, nil
}

func (m *ReviewDecisionMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ReviewDecisionMessageFromJSON(data []byte) (*ReviewDecisionMessage, error) {
	var msg ReviewDecisionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RunFinalizedMessage announces a finished ingestion run.
type RunFinalizedMessage struct {
	RunID                   int64     `json:"run_id"`
	Status                  string    `json:"status"`
	FilesProcessed          int       `json:"files_processed"`
	TransactionsAdded       int       `json:"transactions_added"`
	Duplicates              int       `json:"duplicates"`
	Rejected                int       `json:"rejected"`
	Flagged                 int       `json:"flagged"`
	CategorizedByRule       int       `json:"categorized_by_rule"`
	CategorizedByClassifier int       `json:"categorized_by_classifier"`
	Errors                  int       `json:"errors"`
	Summary                 string    `json:"summary"`
	Timestamp               time.Time `json:"timestamp"`
}

func NewRunFinalizedMessage(run core.IngestionRun) *RunFinalizedMessage {
	return &RunFinalizedMessage{
		RunID:                   run.ID,
		Status:                  string(run.Status),
		FilesProcessed:          run.FilesProcessed,
		TransactionsAdded:       run.TransactionsAdded,
		Duplicates:              run.Duplicates,
		Rejected:                run.Rejected,
		Flagged:                 run.Flagged,
		CategorizedByRule:       run.CategorizedByRule,
		CategorizedByClassifier: run.CategorizedByClassifier,
		Errors:                  len(run.Errors),
		Summary:                 run.Summary,
		Timestamp:               time.Now(),
	}
}

func (m *RunFinalizedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RunFinalizedMessageFromJSON(data []byte) (*RunFinalizedMessage, error) {
	var msg RunFinalizedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
