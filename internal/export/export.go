// Package export renders review queues and run history as XLSX workbooks.
package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/houfu/lavender-ledger/internal/core"
)

const (
	flaggedSheet = "Flagged"
	runsSheet    = "Runs"
	notesWidth   = 140
)

var (
	flaggedHeaders = []string{"ID", "Date", "Account Type", "Merchant", "Description", "Amount", "Category", "Confidence", "Rule ID", "Notes"}
	runsHeaders    = []string{"Run ID", "Started", "Completed", "Status", "Files", "Added", "Duplicates", "Rejected", "By Rule", "By Classifier", "Flagged", "Errors", "Summary"}
)

// FlaggedXLSX writes one row per transaction awaiting review.
func FlaggedXLSX(txs []core.Transaction) ([]byte, error) {
	w, err := newWorkbook(flaggedSheet, flaggedHeaders)
	if err != nil {
		return nil, err
	}
	defer w.f.Close()

	for _, t := range txs {
		var confidence any
		if t.Confidence != nil {
			confidence = *t.Confidence
		}
		var ruleID any
		if t.RuleID != nil {
			ruleID = *t.RuleID
		}
		category := ""
		if t.Category != nil {
			category = *t.Category
		}
		w.row(
			t.ID,
			t.Date.String(),
			string(t.AccountType),
			t.MerchantOriginal,
			t.Description,
			t.Amount.InexactFloat64(),
			category,
			confidence,
			ruleID,
			truncate(t.Notes, notesWidth),
		)
	}

	w.widths(map[string]float64{"A": 8, "B": 12, "C": 16, "D": 32, "E": 40, "F": 12, "G": 24, "H": 12, "I": 8, "J": 48})
	if err := w.numberFormat("F", 4); err != nil {
		return nil, err
	}
	return w.bytes()
}

// RunsXLSX writes one row per ingestion run.
func RunsXLSX(runs []core.IngestionRun) ([]byte, error) {
	w, err := newWorkbook(runsSheet, runsHeaders)
	if err != nil {
		return nil, err
	}
	defer w.f.Close()

	for _, r := range runs {
		completed := ""
		if r.CompletedAt != nil {
			completed = r.CompletedAt.UTC().Format(time.RFC3339)
		}
		w.row(
			r.ID,
			r.StartedAt.UTC().Format(time.RFC3339),
			completed,
			string(r.Status),
			r.FilesProcessed,
			r.TransactionsAdded,
			r.Duplicates,
			r.Rejected,
			r.CategorizedByRule,
			r.CategorizedByClassifier,
			r.Flagged,
			strings.Join(r.Errors, "; "),
			r.Summary,
		)
	}

	w.widths(map[string]float64{"A": 8, "B": 22, "C": 22, "D": 12, "L": 60, "M": 60})
	return w.bytes()
}

type workbook struct {
	f     *excelize.File
	sheet string
	next  int
	err   error
}

func newWorkbook(sheet string, headers []string) (*workbook, error) {
	f := excelize.NewFile()
	// the default sheet is renamed rather than left empty beside ours
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("name sheet: %w", err)
	}
	w := &workbook{f: f, sheet: sheet, next: 1}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("header style: %w", err)
	}
	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	w.row(row...)
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		f.Close()
		return nil, fmt.Errorf("style header: %w", err)
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		f.Close()
		return nil, fmt.Errorf("freeze header: %w", err)
	}
	return w, nil
}

// row writes values from column A; the first failure sticks.
func (w *workbook) row(values ...any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, w.next)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetSheetRow(w.sheet, cell, &values); err != nil {
		w.err = fmt.Errorf("write row %d: %w", w.next, err)
		return
	}
	w.next++
}

func (w *workbook) widths(cols map[string]float64) {
	for col, width := range cols {
		_ = w.f.SetColWidth(w.sheet, col, col, width)
	}
}

// numberFormat applies a built-in number format to the data rows of col.
func (w *workbook) numberFormat(col string, numFmt int) error {
	if w.next <= 2 {
		return nil
	}
	style, err := w.f.NewStyle(&excelize.Style{NumFmt: numFmt})
	if err != nil {
		return fmt.Errorf("number style: %w", err)
	}
	return w.f.SetCellStyle(w.sheet, col+"2", fmt.Sprintf("%s%d", col, w.next-1), style)
}

func (w *workbook) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	var buf bytes.Buffer
	if _, err := w.f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
