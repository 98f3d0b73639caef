package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/houfu/lavender-ledger/internal/core"
	"github.com/houfu/lavender-ledger/internal/services"
)

const maxBodyBytes = 64 << 10

// ParseLimit reads ?limit=, falling back to def and capping at max.
// Non-numeric and non-positive values are ignored.
func ParseLimit(query url.Values, def, max int) int {
	v := strings.TrimSpace(query.Get("limit"))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// PathID extracts the numeric {id} route variable.
func PathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// DecodeJSON reads one JSON object from the body. Unknown fields and
// trailing data are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("unsupported content type %q", ct)
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("decode body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must hold a single JSON object")
	}
	return nil
}

// filterRequest carries the optional rule filters shared by review and
// rule requests.
type filterRequest struct {
	MinAmount   *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount   *decimal.Decimal `json:"max_amount,omitempty"`
	AccountType string           `json:"account_type,omitempty"`
}

func (f filterRequest) accountType() (*core.AccountType, error) {
	if strings.TrimSpace(f.AccountType) == "" {
		return nil, nil
	}
	at, err := core.ParseAccountType(f.AccountType)
	if err != nil {
		return nil, err
	}
	return &at, nil
}

type reviewRequest struct {
	Action     string  `json:"action"`
	Category   string  `json:"category,omitempty"`
	Pattern    string  `json:"pattern,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	filterRequest
}

func (req reviewRequest) decision(txID int64) (core.ReviewDecision, error) {
	at, err := req.accountType()
	if err != nil {
		return core.ReviewDecision{}, err
	}
	d := core.ReviewDecision{
		TransactionID: txID,
		Action:        core.ReviewAction(strings.ToLower(strings.TrimSpace(req.Action))),
		Category:      strings.TrimSpace(req.Category),
		Pattern:       strings.TrimSpace(req.Pattern),
		Confidence:    req.Confidence,
		MinAmount:     req.MinAmount,
		MaxAmount:     req.MaxAmount,
		AccountType:   at,
	}
	if err := d.Validate(); err != nil {
		return core.ReviewDecision{}, err
	}
	return d, nil
}

type ruleRequest struct {
	Pattern    string   `json:"pattern"`
	Category   string   `json:"category"`
	Confidence *float64 `json:"confidence,omitempty"`
	Notes      string   `json:"notes,omitempty"`
	filterRequest
}

const defaultRuleConfidence = 0.95

func (req ruleRequest) input() (services.RuleInput, error) {
	at, err := req.accountType()
	if err != nil {
		return services.RuleInput{}, err
	}
	confidence := defaultRuleConfidence
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	return services.RuleInput{
		Pattern:     req.Pattern,
		Category:    req.Category,
		Confidence:  confidence,
		MinAmount:   req.MinAmount,
		MaxAmount:   req.MaxAmount,
		AccountType: at,
		Notes:       strings.TrimSpace(req.Notes),
	}, nil
}
