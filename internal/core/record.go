package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Record is one transaction line as handed over by the parsing collaborator.
// Fields stay textual so that a malformed value surfaces as a ValidationError
// for that record only.
type Record struct {
	Date        string `json:"date"`
	PostDate    string `json:"post_date,omitempty"`
	Amount      string `json:"amount"`
	Merchant    string `json:"merchant"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// ValidRecord is a Record that passed validation and direction normalization.
type ValidRecord struct {
	Date               Date
	PostDate           *Date
	Amount             decimal.Decimal
	Kind               TransactionKind
	MerchantOriginal   string
	MerchantNormalized string
	Description        string
}

// Key is the transaction uniqueness key in display form.
func (r ValidRecord) Key() string {
	return r.Date.String() + "|" + AmountKey(r.Amount) + "|" + r.MerchantOriginal
}

// Validate checks a record at position index and normalizes it.
func (r Record) Validate(index int) (ValidRecord, *ValidationError) {
	merchant := strings.TrimSpace(r.Merchant)
	fail := func(field string, err error) (ValidRecord, *ValidationError) {
		return ValidRecord{}, &ValidationError{Index: index, Merchant: merchant, Field: field, Err: err}
	}

	if merchant == "" {
		return fail("merchant", errors.New("merchant cannot be empty"))
	}
	date, err := ParseDate(r.Date)
	if err != nil {
		return fail("date", err)
	}
	var postDate *Date
	if strings.TrimSpace(r.PostDate) != "" {
		pd, err := ParseDate(r.PostDate)
		if err != nil {
			return fail("post_date", err)
		}
		postDate = &pd
	}
	amount, err := ParseAmount(r.Amount)
	if err != nil {
		return fail("amount", err)
	}

	kind := TransactionKind(strings.ToLower(strings.TrimSpace(r.Kind)))
	if kind == "" {
		kind = inferKind(amount)
	}
	if !kind.Valid() {
		return fail("kind", ErrInvalidKind)
	}

	return ValidRecord{
		Date:               date,
		PostDate:           postDate,
		Amount:             NormalizeDirection(kind, amount),
		Kind:               kind,
		MerchantOriginal:   merchant,
		MerchantNormalized: NormalizeMerchant(merchant),
		Description:        strings.TrimSpace(r.Description),
	}, nil
}

func inferKind(amount decimal.Decimal) TransactionKind {
	if amount.IsNegative() {
		return KindExpense
	}
	return KindIncome
}
