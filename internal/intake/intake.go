// Package intake reads the JSON documents the statement parser produces.
//
// A document covers one source file. It either holds a single statement
// (top-level account_info and transactions) or, for consolidated files, a
// statements array with one entry per account.
package intake

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/houfu/lavender-ledger/internal/core"
	"github.com/houfu/lavender-ledger/internal/fingerprint"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func documentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if schemaErr = c.AddResource("intake.json", bytes.NewReader(schemaJSON)); schemaErr != nil {
			return
		}
		schema, schemaErr = c.Compile("intake.json")
	})
	return schema, schemaErr
}

// Document is one parsed source file.
type Document struct {
	// Path is where the document was read from.
	Path string
	// SourcePath is the original statement file the parser read.
	SourcePath  string
	Fingerprint fingerprint.Fingerprint
	Statements  []Statement
}

// Statement is the part of a document that belongs to one account.
type Statement struct {
	Account     core.AccountDescriptor
	Date        core.Date
	PeriodStart *core.Date
	PeriodEnd   *core.Date
	Records     []core.Record
}

type rawAccountInfo struct {
	AccountName   string  `json:"account_name"`
	AccountType   string  `json:"account_type"`
	BankName      *string `json:"bank_name"`
	LastFour      *string `json:"last_four"`
	StatementDate *string `json:"statement_date"`
	PeriodStart   *string `json:"period_start"`
	PeriodEnd     *string `json:"period_end"`
}

type rawTransaction struct {
	TransactionDate  flexString `json:"transaction_date"`
	PostDate         flexString `json:"post_date"`
	Amount           flexString `json:"amount"`
	TransactionType  flexString `json:"transaction_type"`
	MerchantOriginal flexString `json:"merchant_original"`
	Description      flexString `json:"description"`
}

type rawStatement struct {
	AccountInfo  rawAccountInfo   `json:"account_info"`
	Transactions []rawTransaction `json:"transactions"`
}

type rawDocument struct {
	FilePath     string           `json:"file_path"`
	FileHash     string           `json:"file_hash"`
	AccountInfo  *rawAccountInfo  `json:"account_info"`
	Transactions []rawTransaction `json:"transactions"`
	Statements   []rawStatement   `json:"statements"`
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("expected string or number, got %s", b)
		}
		*f = flexString(n.String())
	}
	return nil
}

// Parse validates data against the document schema and converts it. The
// fingerprint is the parser-reported file_hash when present, otherwise the
// hash of data itself. Record-level problems are left for ingestion to
// reject one by one.
func Parse(path string, data []byte) (Document, error) {
	s, err := documentSchema()
	if err != nil {
		return Document{}, fmt.Errorf("compile intake schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return Document{}, fmt.Errorf("%s: invalid JSON: %w", path, err)
	}
	if err := s.Validate(v); err != nil {
		return Document{}, fmt.Errorf("%s: document does not match schema: %w", path, err)
	}

	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("%s: decode document: %w", path, err)
	}

	doc := Document{Path: path, SourcePath: raw.FilePath}
	if doc.SourcePath == "" {
		doc.SourcePath = path
	}
	if raw.FileHash != "" {
		doc.Fingerprint = fingerprint.Fingerprint(raw.FileHash)
	} else {
		doc.Fingerprint = fingerprint.Compute(data)
	}

	stmts := raw.Statements
	if raw.AccountInfo != nil {
		stmts = append([]rawStatement{{AccountInfo: *raw.AccountInfo, Transactions: raw.Transactions}}, stmts...)
	}
	for i, rs := range stmts {
		st, err := convertStatement(rs)
		if err != nil {
			return Document{}, fmt.Errorf("%s: statement %d: %w", path, i, err)
		}
		doc.Statements = append(doc.Statements, st)
	}
	return doc, nil
}

func convertStatement(rs rawStatement) (Statement, error) {
	at, err := core.ParseAccountType(rs.AccountInfo.AccountType)
	if err != nil {
		return Statement{}, err
	}
	st := Statement{
		Account: core.AccountDescriptor{
			Name:        strings.TrimSpace(rs.AccountInfo.AccountName),
			Type:        at,
			Institution: deref(rs.AccountInfo.BankName),
			LastFour:    deref(rs.AccountInfo.LastFour),
		},
	}
	if st.PeriodStart, err = optionalDate(rs.AccountInfo.PeriodStart); err != nil {
		return Statement{}, fmt.Errorf("period_start: %w", err)
	}
	if st.PeriodEnd, err = optionalDate(rs.AccountInfo.PeriodEnd); err != nil {
		return Statement{}, fmt.Errorf("period_end: %w", err)
	}

	for _, t := range rs.Transactions {
		st.Records = append(st.Records, core.Record{
			Date:        string(t.TransactionDate),
			PostDate:    string(t.PostDate),
			Amount:      string(t.Amount),
			Merchant:    string(t.MerchantOriginal),
			Description: string(t.Description),
			Kind:        string(t.TransactionType),
		})
	}

	date, err := optionalDate(rs.AccountInfo.StatementDate)
	if err != nil {
		return Statement{}, fmt.Errorf("statement_date: %w", err)
	}
	switch {
	case date != nil:
		st.Date = *date
	case st.PeriodEnd != nil:
		st.Date = *st.PeriodEnd
	default:
		st.Date, err = latestRecordDate(st.Records)
		if err != nil {
			return Statement{}, err
		}
	}
	return st, nil
}

func latestRecordDate(records []core.Record) (core.Date, error) {
	var latest core.Date
	for _, r := range records {
		if d, err := core.ParseDate(r.Date); err == nil && d.After(latest.Time) {
			latest = d
		}
	}
	if latest.IsZero() {
		return core.Date{}, errors.New("statement date missing and no transaction carries a valid date")
	}
	return latest, nil
}

func optionalDate(s *string) (*core.Date, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	d, err := core.ParseDate(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(path, data)
}

// LoadDir reads every *.json file in dir in name order. Files that fail to
// load are reported next to the documents that did.
func LoadDir(dir string) ([]Document, []error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, []error{fmt.Errorf("list %s: %w", dir, err)}
	}
	slices.Sort(paths)

	var (
		docs []Document
		errs []error
	)
	for _, p := range paths {
		doc, err := Load(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, errs
}
