// Package sheets holds the outbound ports for spreadsheet-backed category
// vocabularies.
package sheets

import (
	"context"

	"github.com/houfu/lavender-ledger/internal/core"
)

// CategoryReader lists the categories kept in a spreadsheet. Every reader is
// also usable as a vocab.Source.
type CategoryReader interface {
	Name() string
	Categories(ctx context.Context) ([]core.Category, error)
}
