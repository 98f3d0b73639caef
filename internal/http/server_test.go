package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/mock/gomock"

	"github.com/houfu/lavender-ledger/internal/classify"
	"github.com/houfu/lavender-ledger/internal/core"
	"github.com/houfu/lavender-ledger/internal/fingerprint"
	"github.com/houfu/lavender-ledger/internal/intake"
	"github.com/houfu/lavender-ledger/internal/ledger"
	"github.com/houfu/lavender-ledger/internal/log"
	"github.com/houfu/lavender-ledger/internal/rules"
	"github.com/houfu/lavender-ledger/internal/services"
	"github.com/houfu/lavender-ledger/internal/storage"
)

type fakePublisher struct {
	decisions []core.ReviewDecision
	err       error
}

func (f *fakePublisher) PublishReviewDecision(_ context.Context, d core.ReviewDecision) error {
	if f.err != nil {
		return f.err
	}
	f.decisions = append(f.decisions, d)
	return nil
}

type fixture struct {
	server *Server
	repo   *storage.SQLiteRepository
	runID  int64
}

// newFixture ingests two card records that the classifier returns with low
// confidence, leaving both flagged.
func newFixture(t *testing.T, publisher DecisionPublisher) fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	mock := classify.NewMockClassifier(ctrl)
	mock.EXPECT().Name().Return("mock").AnyTimes()
	mock.EXPECT().Classify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req classify.Request) ([]classify.Result, error) {
			out := make([]classify.Result, 0, len(req.Items))
			for _, it := range req.Items {
				out = append(out, classify.Result{
					TransactionID: it.TransactionID,
					Category:      "Dining & Restaurants",
					Confidence:    0.5,
				})
			}
			return out, nil
		}).
		AnyTimes()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	policy := core.DefaultPolicy()
	l := ledger.New(repo.Queries(), policy)
	learning := services.NewLearningService(repo, l, rules.NewRecorder(repo.Queries()))
	orch := services.NewCategorizationOrchestrator(repo, l, mock, learning, services.OrchestratorConfig{Policy: policy})
	ingestion := services.NewIngestionService(repo, l, orch, nil, services.IngestionConfig{Parallelism: 1})

	doc := intake.Document{
		Path:        "dec.json",
		SourcePath:  "dec.pdf",
		Fingerprint: fingerprint.Compute([]byte("dec")),
		Statements: []intake.Statement{{
			Account: core.AccountDescriptor{Name: "VISA 3347", Type: core.AccountCard},
			Date:    core.NewDate(2024, 12, 31),
			Records: []core.Record{
				{Date: "2024-12-03", Amount: "-18.40", Merchant: "SQ *BLUE BOTTLE"},
				{Date: "2024-12-09", Amount: "-61.00", Merchant: "TST* NOODLE HOUSE"},
			},
		}},
	}
	run, err := ingestion.Run(context.Background(), []intake.Document{doc})
	require.NoError(t, err)
	require.Equal(t, 2, run.Flagged)

	s := NewServer(Options{
		Repo:      repo,
		Ledger:    l,
		Learning:  learning,
		Decisions: publisher,
		Policy:    policy,
		Logger:    log.New(log.Config{Output: &bytes.Buffer{}}),
	})
	t.Cleanup(s.rateLimiter.stop)
	return fixture{server: s, repo: repo, runID: run.ID}
}

func (f fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Handler.ServeHTTP(rec, req)
	return rec
}

func (f fixture) flagged(t *testing.T) []transactionJSON {
	t.Helper()
	rec := f.do(t, http.MethodGet, "/transactions/flagged", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out []transactionJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get(log.RequestIDHeader))
}

func TestRuns(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/runs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []runJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, f.runID, runs[0].ID)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 2, runs[0].TransactionsAdded)
	assert.Empty(t, runs[0].Files)

	rec = f.do(t, http.MethodGet, "/runs/"+strconv.FormatInt(f.runID, 10), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var run runJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.Len(t, run.Files, 1)
	assert.Equal(t, "dec.pdf", run.Files[0].SourcePath)
	assert.Equal(t, 2, run.Files[0].Inserted)

	rec = f.do(t, http.MethodGet, "/runs/9999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTransactions(t *testing.T) {
	f := newFixture(t, nil)

	flagged := f.flagged(t)
	require.Len(t, flagged, 2)
	for _, tx := range flagged {
		assert.True(t, tx.Flagged)
		require.NotNil(t, tx.Category)
		assert.Equal(t, "Dining & Restaurants", *tx.Category)
	}

	rec := f.do(t, http.MethodGet, "/transactions/flagged?limit=1", "")
	var limited []transactionJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &limited))
	assert.Len(t, limited, 1)

	rec = f.do(t, http.MethodGet, "/transactions/uncategorized", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestReviewAppliedInline(t *testing.T) {
	f := newFixture(t, nil)
	target := f.flagged(t)[0]
	path := "/transactions/" + strconv.FormatInt(target.ID, 10) + "/review"

	rec := f.do(t, http.MethodPost, path, `{"action":"create-rule","category":"Groceries","pattern":"SQ *BLUE*"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tx transactionJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tx))
	assert.False(t, tx.Flagged)
	require.NotNil(t, tx.Category)
	assert.Equal(t, "Groceries", *tx.Category)

	assert.Len(t, f.flagged(t), 1)

	rule, err := f.repo.Queries().GetRuleByPattern(context.Background(), "SQ *BLUE*")
	require.NoError(t, err)
	assert.True(t, rule.UserConfirmed)
	assert.Equal(t, 0.95, rule.Confidence)
}

func TestReviewErrors(t *testing.T) {
	f := newFixture(t, nil)
	id := strconv.FormatInt(f.flagged(t)[0].ID, 10)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown action", "/transactions/" + id + "/review", `{"action":"delete"}`, http.StatusBadRequest},
		{"missing category", "/transactions/" + id + "/review", `{"action":"recategorize"}`, http.StatusBadRequest},
		{"unknown field", "/transactions/" + id + "/review", `{"action":"accept","extra":1}`, http.StatusBadRequest},
		{"bad account type", "/transactions/" + id + "/review", `{"action":"create-rule","category":"Dining & Restaurants","account_type":"brokerage"}`, http.StatusBadRequest},
		{"unknown category", "/transactions/" + id + "/review", `{"action":"recategorize","category":"Yachts"}`, http.StatusUnprocessableEntity},
		{"missing transaction", "/transactions/9999/review", `{"action":"accept"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestReviewQueued(t *testing.T) {
	pub := &fakePublisher{}
	f := newFixture(t, pub)
	target := f.flagged(t)[0]

	rec := f.do(t, http.MethodPost, "/transactions/"+strconv.FormatInt(target.ID, 10)+"/review", `{"action":"accept"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, pub.decisions, 1)
	assert.Equal(t, target.ID, pub.decisions[0].TransactionID)
	assert.Equal(t, core.ReviewAccept, pub.decisions[0].Action)

	// Nothing changes until the worker applies it.
	assert.Len(t, f.flagged(t), 2)

	rec = f.do(t, http.MethodPost, "/transactions/9999/review", `{"action":"accept"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, pub.decisions, 1)

	pub.err = errors.New("broker down")
	rec = f.do(t, http.MethodPost, "/transactions/"+strconv.FormatInt(target.ID, 10)+"/review", `{"action":"skip"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRules(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/rules", `{"pattern":"TST* NOODLE*","category":"Dining & Restaurants","max_amount":"100"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created ruleJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "conditional", created.Kind)
	assert.Equal(t, 0.95, created.Confidence)
	assert.True(t, created.Active)
	assert.Equal(t, "/rules/"+strconv.FormatInt(created.ID, 10), rec.Header().Get("Location"))

	rec = f.do(t, http.MethodPost, "/rules", `{"pattern":"X*","category":"Yachts"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodGet, "/rules?active=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []ruleJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "TST* NOODLE*", list[0].Pattern)
}

func TestExports(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/export/flagged.xlsx", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	wb, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	rows, err := wb.GetRows("Flagged")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rec = f.do(t, http.MethodGet, "/export/runs.xlsx", "")
	require.Equal(t, http.StatusOK, rec.Code)
	wb, err = excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	rows, err = wb.GetRows("Runs")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRoutingErrors(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"no such route"}`, rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/rules", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimitOnWrites(t *testing.T) {
	f := newFixture(t, nil)
	f.server.rateLimiter = newRateLimiter(2)
	t.Cleanup(f.server.rateLimiter.stop)

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/rules", `{"pattern":"X*","category":"Yachts"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/rules", `{"pattern":"X*","category":"Yachts"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Reads are not limited.
	rec = f.do(t, http.MethodGet, "/rules", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:1234")
	rec := httptest.NewRecorder()
	f.server.Handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	f.server.origins = []string{"http://localhost:1234"}
	f.server.Handler = f.server.routes()

	rec = httptest.NewRecorder()
	f.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:1234", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rec = httptest.NewRecorder()
	f.server.Handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
