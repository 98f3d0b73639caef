package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/houfu/lavender-ledger/internal/core"
	"github.com/houfu/lavender-ledger/internal/export"
	"github.com/houfu/lavender-ledger/internal/ledger"
	"github.com/houfu/lavender-ledger/internal/log"
)

const (
	defaultListLimit   = 50
	maxListLimit       = 500
	defaultExportLimit = 1000
	maxExportLimit     = 10000
	xlsxContentType    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.repo.Ping(ctx); err != nil {
		log.FromContext(ctx).Error("Health check failed", log.FieldError, err)
		ErrorResponse(http.StatusServiceUnavailable, "database unavailable").Write(w)
		return
	}
	NewJSONResponse().JSON(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := ParseLimit(r.URL.Query(), defaultListLimit, maxListLimit)
	runs, err := s.repo.Queries().ListRuns(r.Context(), limit)
	if err != nil {
		s.fail(w, r, core.NewStorageError("list runs", err))
		return
	}
	out := make([]runJSON, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunJSON(run, nil))
	}
	NewJSONResponse().JSON(out).Write(w)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	q := s.repo.Queries()
	run, err := q.GetRun(r.Context(), id)
	if err != nil {
		s.fail(w, r, storageUnlessMissing("get run", err))
		return
	}
	files, err := q.ListFileStatuses(r.Context(), id)
	if err != nil {
		s.fail(w, r, core.NewStorageError("list file statuses", err))
		return
	}
	NewJSONResponse().JSON(toRunJSON(run, files)).Write(w)
}

func (s *Server) handleListFlagged(w http.ResponseWriter, r *http.Request) {
	limit := ParseLimit(r.URL.Query(), defaultListLimit, maxListLimit)
	txs, err := ledger.Collect(s.ledger.ListFlagged(r.Context()), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().JSON(toTransactionsJSON(txs)).Write(w)
}

func (s *Server) handleListUncategorized(w http.ResponseWriter, r *http.Request) {
	limit := ParseLimit(r.URL.Query(), defaultListLimit, maxListLimit)
	txs, err := ledger.Collect(s.ledger.ListUncategorized(r.Context()), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().JSON(toTransactionsJSON(txs)).Write(w)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	var req reviewRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	d, err := req.decision(id)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	ctx := r.Context()
	logger := log.FromContext(ctx).WithFields(log.NewFields().WithDecision(d).WithOperation(log.OpReview))

	if s.decisions != nil {
		if _, err := s.repo.Queries().GetTransaction(ctx, id); err != nil {
			s.fail(w, r, storageUnlessMissing("get transaction", err))
			return
		}
		if err := s.decisions.PublishReviewDecision(ctx, d); err != nil {
			logger.Error("Failed to queue review decision", log.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, "review queue unavailable").Write(w)
			return
		}
		logger.Info("Review decision queued")
		NewJSONResponse().Status(http.StatusAccepted).
			JSON(map[string]any{"status": "queued", "transaction_id": id}).
			Write(w)
		return
	}

	if err := s.learning.Apply(ctx, d); err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.repo.Queries().GetTransaction(ctx, id)
	if err != nil {
		s.fail(w, r, storageUnlessMissing("get transaction", err))
		return
	}
	logger.Info("Review decision applied")
	NewJSONResponse().JSON(toTransactionJSON(t)).Write(w)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.repo.Queries().ListRules(r.Context())
	if err != nil {
		s.fail(w, r, core.NewStorageError("list rules", err))
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"
	out := make([]ruleJSON, 0, len(rules))
	for _, rule := range rules {
		rj := toRuleJSON(rule, s.policy.RetirementThreshold)
		if activeOnly && !rj.Active {
			continue
		}
		out = append(out, rj)
	}
	NewJSONResponse().JSON(out).Write(w)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	in, err := req.input()
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	rule, err := s.learning.CreateRule(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).
		Header("Location", fmt.Sprintf("/rules/%d", rule.ID)).
		JSON(toRuleJSON(rule, s.policy.RetirementThreshold)).
		Write(w)
}

func (s *Server) handleExportFlagged(w http.ResponseWriter, r *http.Request) {
	limit := ParseLimit(r.URL.Query(), defaultExportLimit, maxExportLimit)
	txs, err := ledger.Collect(s.ledger.ListFlagged(r.Context()), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data, err := export.FlaggedXLSX(txs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().Attachment(xlsxContentType, "flagged-"+time.Now().Format("20060102")+".xlsx", data).Write(w)
}

func (s *Server) handleExportRuns(w http.ResponseWriter, r *http.Request) {
	limit := ParseLimit(r.URL.Query(), defaultExportLimit, maxExportLimit)
	runs, err := s.repo.Queries().ListRuns(r.Context(), limit)
	if err != nil {
		s.fail(w, r, core.NewStorageError("list runs", err))
		return
	}
	data, err := export.RunsXLSX(runs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().Attachment(xlsxContentType, "runs-"+time.Now().Format("20060102")+".xlsx", data).Write(w)
}

// fail logs err and writes the mapped error response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	resp := ServiceError(err)
	if resp.statusCode >= http.StatusInternalServerError {
		log.FromContext(r.Context()).Error("Request failed", log.FieldError, err)
	} else {
		log.FromContext(r.Context()).Warn("Request rejected", log.FieldError, err)
	}
	resp.Write(w)
}

func storageUnlessMissing(op string, err error) error {
	if ledger.IsNotFound(err) {
		return err
	}
	return core.NewStorageError(op, err)
}
