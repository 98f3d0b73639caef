package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/houfu/lavender-ledger/internal/core"
	"github.com/houfu/lavender-ledger/internal/storage"
)

// JSONResponseBuilder provides a fluent API for JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	payload    any
	raw        []byte
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// JSON sets the value encoded as the body.
func (b *JSONResponseBuilder) JSON(v any) *JSONResponseBuilder {
	b.payload = v
	return b
}

// Attachment sends raw bytes as a download.
func (b *JSONResponseBuilder) Attachment(contentType, filename string, data []byte) *JSONResponseBuilder {
	b.headers["Content-Type"] = contentType
	b.headers["Content-Disposition"] = `attachment; filename="` + filename + `"`
	b.raw = data
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.raw != nil {
		w.WriteHeader(b.statusCode)
		_, _ = w.Write(b.raw)
		return
	}
	if b.payload == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	body, err := json.Marshal(b.payload)
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(body, '\n'))
}

type errorBody struct {
	Error string `json:"error"`
}

// ErrorResponse creates a JSON error response.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).JSON(errorBody{Error: message})
}

func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// ServiceError maps an engine error onto a status. Anything that is neither
// missing nor a storage failure is a rejected input. Storage failures are not
// echoed to the client.
func ServiceError(err error) *JSONResponseBuilder {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return NotFoundError(err.Error())
	case core.IsStorage(err):
		return InternalServerError("storage unavailable")
	default:
		return ErrorResponse(http.StatusUnprocessableEntity, err.Error())
	}
}

type transactionJSON struct {
	ID                 int64           `json:"id"`
	StatementID        *int64          `json:"statement_id,omitempty"`
	AccountID          int64           `json:"account_id"`
	AccountType        string          `json:"account_type"`
	Date               string          `json:"date"`
	PostDate           string          `json:"post_date,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Kind               string          `json:"kind"`
	Merchant           string          `json:"merchant"`
	MerchantNormalized string          `json:"merchant_normalized"`
	Description        string          `json:"description,omitempty"`
	Category           *string         `json:"category"`
	Confidence         *float64        `json:"confidence"`
	Flagged            bool            `json:"flagged"`
	Notes              string          `json:"notes,omitempty"`
	RuleID             *int64          `json:"rule_id,omitempty"`
}

func toTransactionJSON(t core.Transaction) transactionJSON {
	out := transactionJSON{
		ID:                 t.ID,
		StatementID:        t.StatementID,
		AccountID:          t.AccountID,
		AccountType:        string(t.AccountType),
		Date:               t.Date.String(),
		Amount:             t.Amount,
		Kind:               string(t.Kind),
		Merchant:           t.MerchantOriginal,
		MerchantNormalized: t.MerchantNormalized,
		Description:        t.Description,
		Category:           t.Category,
		Confidence:         t.Confidence,
		Flagged:            t.Flagged,
		Notes:              t.Notes,
		RuleID:             t.RuleID,
	}
	if t.PostDate != nil {
		out.PostDate = t.PostDate.String()
	}
	return out
}

func toTransactionsJSON(ts []core.Transaction) []transactionJSON {
	out := make([]transactionJSON, 0, len(ts))
	for _, t := range ts {
		out = append(out, toTransactionJSON(t))
	}
	return out
}

type ruleJSON struct {
	ID            int64            `json:"id"`
	Pattern       string           `json:"pattern"`
	Category      string           `json:"category"`
	Confidence    float64          `json:"confidence"`
	Kind          string           `json:"kind"`
	MinAmount     *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount     *decimal.Decimal `json:"max_amount,omitempty"`
	AccountType   string           `json:"account_type,omitempty"`
	TimesApplied  int64            `json:"times_applied"`
	TimesRejected int64            `json:"times_rejected"`
	Accuracy      *float64         `json:"accuracy"`
	Active        bool             `json:"active"`
	UserConfirmed bool             `json:"user_confirmed"`
	AutoCreated   bool             `json:"auto_created"`
	LastUsed      *time.Time       `json:"last_used,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

func toRuleJSON(r core.Rule, retirement float64) ruleJSON {
	out := ruleJSON{
		ID:            r.ID,
		Pattern:       r.Pattern,
		Category:      r.Category,
		Confidence:    r.Confidence,
		Kind:          string(r.Kind),
		MinAmount:     r.MinAmount,
		MaxAmount:     r.MaxAmount,
		TimesApplied:  r.TimesApplied,
		TimesRejected: r.TimesRejected,
		Accuracy:      r.Accuracy,
		Active:        r.Active(retirement),
		UserConfirmed: r.UserConfirmed,
		AutoCreated:   r.AutoCreated,
		LastUsed:      r.LastUsed,
		Notes:         r.Notes,
		CreatedAt:     r.CreatedAt,
	}
	if r.AccountType != nil {
		out.AccountType = string(*r.AccountType)
	}
	return out
}

type fileJSON struct {
	SourcePath  string    `json:"source_path"`
	Fingerprint string    `json:"fingerprint"`
	AccountID   *int64    `json:"account_id,omitempty"`
	StatementID *int64    `json:"statement_id,omitempty"`
	Status      string    `json:"status"`
	Inserted    int       `json:"inserted"`
	Duplicates  int       `json:"duplicates"`
	Rejected    int       `json:"rejected"`
	Error       string    `json:"error,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

type runJSON struct {
	ID                      int64      `json:"id"`
	StartedAt               time.Time  `json:"started_at"`
	CompletedAt             *time.Time `json:"completed_at,omitempty"`
	Status                  string     `json:"status"`
	FilesProcessed          int        `json:"files_processed"`
	TransactionsAdded       int        `json:"transactions_added"`
	TransactionsUpdated     int        `json:"transactions_updated"`
	Duplicates              int        `json:"duplicates"`
	Rejected                int        `json:"rejected"`
	Flagged                 int        `json:"flagged"`
	CategorizedByRule       int        `json:"categorized_by_rule"`
	CategorizedByClassifier int        `json:"categorized_by_classifier"`
	Errors                  []string   `json:"errors"`
	Summary                 string     `json:"summary"`
	Files                   []fileJSON `json:"files,omitempty"`
}

func toRunJSON(r core.IngestionRun, files []storage.FileStatus) runJSON {
	out := runJSON{
		ID:                      r.ID,
		StartedAt:               r.StartedAt,
		CompletedAt:             r.CompletedAt,
		Status:                  string(r.Status),
		FilesProcessed:          r.FilesProcessed,
		TransactionsAdded:       r.TransactionsAdded,
		TransactionsUpdated:     r.TransactionsUpdated,
		Duplicates:              r.Duplicates,
		Rejected:                r.Rejected,
		Flagged:                 r.Flagged,
		CategorizedByRule:       r.CategorizedByRule,
		CategorizedByClassifier: r.CategorizedByClassifier,
		Errors:                  r.Errors,
		Summary:                 r.Summary,
	}
	if out.Errors == nil {
		out.Errors = []string{}
	}
	for _, f := range files {
		out.Files = append(out.Files, fileJSON{
			SourcePath:  f.SourcePath,
			Fingerprint: f.FileHash,
			AccountID:   f.AccountID,
			StatementID: f.StatementID,
			Status:      f.Status,
			Inserted:    f.Inserted,
			Duplicates:  f.Duplicates,
			Rejected:    f.Rejected,
			Error:       f.Error,
			ProcessedAt: f.ProcessedAt,
		})
	}
	return out
}
