package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/auth"
	"github.com/sakif/repo-analyser/internal/model"
	"github.com/sakif/repo-analyser/internal/service"
)

// AnalysisService is the part of service.AnalysisService the handlers use.
type AnalysisService interface {
	Analyse(ctx context.Context, repositoryID string, caller auth.CallerContext) (*model.Analysis, error)
	History(ctx context.Context, repositoryID string, caller auth.CallerContext) ([]model.Analysis, error)
	Compare(ctx context.Context, repositoryID string, caller auth.CallerContext) (*model.Comparison, error)
	ListForUser(ctx context.Context, caller auth.CallerContext, limit, offset int) (*service.UserAnalyses, error)
	Analytics(ctx context.Context, caller auth.CallerContext, now time.Time) (*model.Analytics, error)
}

// AnalysisHandler serves repository analyses and the views built on them.
type AnalysisHandler struct {
	analyses AnalysisService
	logger   *slog.Logger
}

func NewAnalysisHandler(analyses AnalysisService, logger *slog.Logger) *AnalysisHandler {
	return &AnalysisHandler{analyses: analyses, logger: logger}
}

type AnalyseResponse struct {
	Success  bool            `json:"success"`
	Analysis *model.Analysis `json:"analysis"`
}

// HandleAnalyse serves POST /repositories/{id}/analyse. The run is
// synchronous; a client that disconnects cancels it and nothing is stored.
func (h *AnalysisHandler) HandleAnalyse(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	a, err := h.analyses.Analyse(r.Context(), chi.URLParam(r, "id"), caller)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, AnalyseResponse{Success: true, Analysis: a})
}

// HandleHistory serves GET /repositories/{id}/analyse.
func (h *AnalysisHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	list, err := h.analyses.History(r.Context(), chi.URLParam(r, "id"), caller)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []model.Analysis{}
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: list})
}

// HandleCompare serves GET /repositories/{id}/compare.
func (h *AnalysisHandler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	cmp, err := h.analyses.Compare(r.Context(), chi.URLParam(r, "id"), caller)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if cmp.History == nil {
		cmp.History = []model.Analysis{}
	}
	writeJSON(w, http.StatusOK, cmp)
}

// HandleList serves GET /analyses?limit=&offset=.
func (h *AnalysisHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	limit, err := intQuery(r, "limit", service.DefaultListLimit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	page, err := h.analyses.ListForUser(r.Context(), caller, limit, offset)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleAnalytics serves GET /analytics.
func (h *AnalysisHandler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out, err := h.analyses.Analytics(r.Context(), caller, time.Now())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a non-negative integer")
	}
	return n, nil
}
