package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	AccountChecking AccountType = "asset-checking"
	AccountSavings  AccountType = "asset-savings"
	AccountCard     AccountType = "liability-card"
)

const (
	KindExpense  TransactionKind = "expense"
	KindIncome   TransactionKind = "income"
	KindPayment  TransactionKind = "payment"
	KindFee      TransactionKind = "fee"
	KindInterest TransactionKind = "interest"
	KindTransfer TransactionKind = "transfer"
)

const (
	RuleKindPattern     RuleKind = "pattern"
	RuleKindConditional RuleKind = "conditional"
)

// Uncategorized is the vocabulary entry treated the same as an unset category.
const Uncategorized = "Uncategorized"

// DateLayout is the storage and wire layout for calendar dates.
const DateLayout = "2006-01-02"

type (
	AccountType     string
	TransactionKind string
	RuleKind        string

	Date struct {
		time.Time
	}

	Account struct {
		ID          int64
		Name        string
		Type        AccountType
		Institution string
		LastFour    string
		Active      bool
		CreatedAt   time.Time
	}

	// AccountDescriptor identifies an account as a parser reports it.
	AccountDescriptor struct {
		Name        string
		Type        AccountType
		Institution string
		LastFour    string
	}

	Statement struct {
		ID               int64
		AccountID        int64
		StatementDate    Date
		PeriodStart      *Date
		PeriodEnd        *Date
		SourcePath       string
		Fingerprint      string
		TransactionCount int
		ProcessedAt      time.Time
	}

	Transaction struct {
		ID                 int64
		StatementID        *int64
		AccountID          int64
		AccountType        AccountType
		Date               Date
		PostDate           *Date
		Amount             decimal.Decimal
		Kind               TransactionKind
		MerchantOriginal   string
		MerchantNormalized string
		Description        string
		Category           *string
		Confidence         *float64
		Flagged            bool
		Notes              string
		RuleID             *int64
		CreatedAt          time.Time
		UpdatedAt          time.Time
	}

	Rule struct {
		ID            int64
		Pattern       string
		Category      string
		Confidence    float64
		Kind          RuleKind
		MinAmount     *decimal.Decimal
		MaxAmount     *decimal.Decimal
		AccountType   *AccountType
		TimesApplied  int64
		TimesRejected int64
		Accuracy      *float64
		UserConfirmed bool
		AutoCreated   bool
		LastUsed      *time.Time
		Notes         string
		CreatedAt     time.Time
	}

	Category struct {
		ID     int64
		Name   string
		Kind   string
		Source string
	}
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidAccountType = errors.New("invalid account type")
	ErrInvalidKind        = errors.New("invalid transaction kind")
	ErrEmptyAccountName   = errors.New("empty account name")
	ErrEmptyPattern       = errors.New("empty rule pattern")
	ErrEmptyCategory      = errors.New("empty category")
	ErrInvalidConfidence  = errors.New("confidence must be within [0,1]")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts ISO dates and the US slash layout parsers commonly emit.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, errors.New("date cannot be empty")
	}
	for _, layout := range []string{DateLayout, "01/02/2006", "2006/01/02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewDate(t.Year(), int(t.Month()), t.Day()), nil
		}
	}
	return Date{}, fmt.Errorf("unparseable date %q", s)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (t AccountType) Valid() bool {
	switch t {
	case AccountChecking, AccountSavings, AccountCard:
		return true
	}
	return false
}

// ParseAccountType maps parser-reported names ("checking", "credit", …) onto the closed enum.
func ParseAccountType(s string) (AccountType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asset-checking", "checking", "current":
		return AccountChecking, nil
	case "asset-savings", "savings", "saving":
		return AccountSavings, nil
	case "liability-card", "credit", "credit_card", "credit-card", "card":
		return AccountCard, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAccountType, s)
}

func (k TransactionKind) Valid() bool {
	switch k {
	case KindExpense, KindIncome, KindPayment, KindFee, KindInterest, KindTransfer:
		return true
	}
	return false
}

func (d AccountDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrEmptyAccountName
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAccountType, d.Type)
	}
	return nil
}

// IsCategorized reports whether the transaction carries a real category.
func (t Transaction) IsCategorized() bool {
	return t.Category != nil && *t.Category != "" && *t.Category != Uncategorized
}

func (r Rule) Validate() error {
	if strings.TrimSpace(r.Pattern) == "" {
		return ErrEmptyPattern
	}
	if strings.TrimSpace(r.Category) == "" {
		return ErrEmptyCategory
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return ErrInvalidConfidence
	}
	if r.AccountType != nil && !r.AccountType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAccountType, *r.AccountType)
	}
	if r.MinAmount != nil && r.MaxAmount != nil && r.MinAmount.GreaterThan(*r.MaxAmount) {
		return errors.New("min amount greater than max amount")
	}
	return nil
}

// Active reports whether the rule still takes part in matching. Derived from
// the stored accuracy on every call.
func (r Rule) Active(retirement float64) bool {
	return r.Accuracy == nil || *r.Accuracy >= retirement
}

// HasFilters reports whether the rule constrains amount or account type.
func (r Rule) HasFilters() bool {
	return r.MinAmount != nil || r.MaxAmount != nil || r.AccountType != nil
}

// ClampConfidence pins c into [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
