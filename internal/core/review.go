package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	ReviewAccept       ReviewAction = "accept"
	ReviewRecategorize ReviewAction = "recategorize"
	ReviewCreateRule   ReviewAction = "create-rule"
	ReviewSkip         ReviewAction = "skip"
)

type ReviewAction string

// ReviewDecision is one reviewer verdict on a flagged transaction.
type ReviewDecision struct {
	TransactionID int64
	Action        ReviewAction
	Category      string
	Pattern       string
	Confidence    float64
	MinAmount     *decimal.Decimal
	MaxAmount     *decimal.Decimal
	AccountType   *AccountType
}

func (d ReviewDecision) Validate() error {
	if d.TransactionID <= 0 {
		return errors.New("transaction id is required")
	}
	switch d.Action {
	case ReviewAccept, ReviewSkip:
		return nil
	case ReviewRecategorize:
		if strings.TrimSpace(d.Category) == "" {
			return ErrEmptyCategory
		}
		return nil
	case ReviewCreateRule:
		if strings.TrimSpace(d.Category) == "" {
			return ErrEmptyCategory
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			return ErrInvalidConfidence
		}
		return nil
	}
	return fmt.Errorf("unknown review action %q", d.Action)
}
