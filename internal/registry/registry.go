// Package registry owns statement-level identity: accounts and the
// statements imported for them, including files that cover several accounts.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/houfu/lavender-ledger/internal/core"
	"github.com/houfu/lavender-ledger/internal/fingerprint"
	"github.com/houfu/lavender-ledger/internal/storage"
)

// Store is satisfied by *storage.Queries, bound to a transaction or not.
type Store interface {
	CreateAccountIfAbsent(ctx context.Context, d core.AccountDescriptor, now time.Time) (bool, error)
	GetAccountByName(ctx context.Context, name string) (core.Account, error)
	InsertStatement(ctx context.Context, arg storage.InsertStatementParams) (int64, error)
}

// NewStatement describes a statement about to be registered.
type NewStatement struct {
	AccountID        int64
	Fingerprint      fingerprint.Fingerprint
	Date             core.Date
	PeriodStart      *core.Date
	PeriodEnd        *core.Date
	SourcePath       string
	TransactionCount int
}

type Registry struct {
	now func() time.Time
}

func New() *Registry {
	return &Registry{now: time.Now}
}

// GetOrCreateAccount resolves an account by name, inserting it on first
// sight. Concurrent callers with the same name converge on one row.
func (r *Registry) GetOrCreateAccount(ctx context.Context, s Store, d core.AccountDescriptor) (core.Account, error) {
	d.Name = strings.TrimSpace(d.Name)
	if err := d.Validate(); err != nil {
		return core.Account{}, fmt.Errorf("validate account: %w", err)
	}

	created, err := s.CreateAccountIfAbsent(ctx, d, r.now())
	if err != nil {
		return core.Account{}, core.NewStorageError("create account", err)
	}
	acct, err := s.GetAccountByName(ctx, d.Name)
	if err != nil {
		return core.Account{}, core.NewStorageError("get account", err)
	}
	if created {
		slog.InfoContext(ctx, "Account created",
			"account_id", acct.ID,
			"name", acct.Name,
			"type", acct.Type)
	}
	return acct, nil
}

// RegisterStatement records a statement for an account. The only duplicate
// condition is an existing (fingerprint, account) pair; the same fingerprint
// under another account is a consolidated statement and is accepted.
func (r *Registry) RegisterStatement(ctx context.Context, s Store, ns NewStatement) (int64, error) {
	if ns.Fingerprint == "" {
		return 0, errors.New("statement fingerprint is required")
	}
	if ns.Date.IsZero() {
		return 0, errors.New("statement date is required")
	}

	id, err := s.InsertStatement(ctx, storage.InsertStatementParams{
		AccountID:        ns.AccountID,
		StatementDate:    ns.Date,
		PeriodStart:      ns.PeriodStart,
		PeriodEnd:        ns.PeriodEnd,
		SourcePath:       ns.SourcePath,
		FileHash:         ns.Fingerprint.String(),
		TransactionCount: ns.TransactionCount,
		ProcessedAt:      r.now(),
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &core.DuplicateError{
			Entity: "statement",
			Key:    fmt.Sprintf("%s/account=%d", ns.Fingerprint, ns.AccountID),
		}
	}
	if err != nil {
		return 0, core.NewStorageError("insert statement", err)
	}

	slog.InfoContext(ctx, "Statement registered",
		"statement_id", id,
		"account_id", ns.AccountID,
		"fingerprint", ns.Fingerprint,
		"transactions", ns.TransactionCount)

	return id, nil
}
