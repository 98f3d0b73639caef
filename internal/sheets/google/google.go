package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/houfu/lavender-ledger/internal/core"
	ports "github.com/houfu/lavender-ledger/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const (
	DefaultCategoriesSheet = "Categories"
	categoriesRange        = "A1:B200"
)

// Config selects the spreadsheet and the service account used to read it.
// CredentialsJSON wins over CredentialsFile; with neither set the
// GOOGLE_APPLICATION_CREDENTIALS file is tried.
type Config struct {
	SpreadsheetID   string
	CategoriesSheet string
	CredentialsFile string
	CredentialsJSON string
}

// Client reads the category vocabulary from a Google Sheet.
type Client struct {
	svc             *gsheet.Service
	spreadsheetID   string
	categoriesSheet string
}

var _ ports.CategoryReader = (*Client)(nil)

func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	creds, err := credentials(cfg)
	if err != nil {
		return nil, err
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsReadonlyScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created",
		"spreadsheet_id", cfg.SpreadsheetID,
		"sheet", cfg.CategoriesSheet)

	return newClient(svc, cfg.SpreadsheetID, cfg.CategoriesSheet), nil
}

func newClient(svc *gsheet.Service, spreadsheetID, sheet string) *Client {
	if strings.TrimSpace(sheet) == "" {
		sheet = DefaultCategoriesSheet
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, categoriesSheet: sheet}
}

func credentials(cfg Config) ([]byte, error) {
	if js := strings.TrimSpace(cfg.CredentialsJSON); js != "" {
		return []byte(js), nil
	}
	path := strings.TrimSpace(cfg.CredentialsFile)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return data, nil
}

func (c *Client) Name() string { return "sheets" }

// Categories reads name and kind columns from the categories sheet.
func (c *Client) Categories(ctx context.Context) ([]core.Category, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!%s", c.categoriesSheet, categoriesRange)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	cats := parseCategories(resp.Values)
	for i := range cats {
		cats[i].Source = c.Name()
	}
	slog.DebugContext(ctx, "Read categories from sheet", "range", rng, "count", len(cats))
	return cats, nil
}
