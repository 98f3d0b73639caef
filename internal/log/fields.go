package log

import "github.com/houfu/lavender-ledger/internal/core"

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldRunID       = "run_id"
	FieldAccountID   = "account_id"
	FieldStatementID = "statement_id"
	FieldTxID        = "transaction_id"
	FieldRuleID      = "rule_id"
	FieldPattern     = "pattern"
	FieldCategory    = "category"
	FieldConfidence  = "confidence"
	FieldFingerprint = "fingerprint"
	FieldClassifier  = "classifier"
	FieldAction      = "action"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentSheets     = "sheets"
	ComponentIngest     = "ingest"
	ComponentClassifier = "classifier"
	ComponentLearning   = "learning"
	ComponentExport     = "export"
)

// Operations defines standard operation names
const (
	OpIngest     = "ingest"
	OpCategorize = "categorize"
	OpReview     = "review"
	OpCreateRule = "create_rule"
	OpExport     = "export"
	OpSyncVocab  = "sync_vocabulary"
	OpPublish    = "publish"
	OpConsume    = "consume"
	OpShutdown   = "shutdown"
	OpStartup    = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithError adds the error message, skipping nil errors
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithRun(runID int64) LogFields {
	f[FieldRunID] = runID
	return f
}

// WithTransaction adds the transaction id and its current category, if any
func (f LogFields) WithTransaction(t core.Transaction) LogFields {
	f[FieldTxID] = t.ID
	f[FieldAccountID] = t.AccountID
	if t.Category != nil {
		f[FieldCategory] = *t.Category
	}
	if t.RuleID != nil {
		f[FieldRuleID] = *t.RuleID
	}
	return f
}

func (f LogFields) WithRule(r core.Rule) LogFields {
	f[FieldRuleID] = r.ID
	f[FieldPattern] = r.Pattern
	f[FieldCategory] = r.Category
	f[FieldConfidence] = r.Confidence
	return f
}

func (f LogFields) WithDecision(d core.ReviewDecision) LogFields {
	f[FieldTxID] = d.TransactionID
	f[FieldAction] = string(d.Action)
	if d.Category != "" {
		f[FieldCategory] = d.Category
	}
	return f
}

// WithHTTP adds request and response fields
func (f LogFields) WithHTTP(method, path string, status int, durationMs int64) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldStatusCode] = status
	f[FieldDuration] = durationMs
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
