package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/repo-analyser/internal/auth"
	"github.com/sakif/repo-analyser/internal/model"
	"github.com/sakif/repo-analyser/internal/service"
)

// RepositoryService is the part of service.RepositoryService the handlers use.
type RepositoryService interface {
	Sync(ctx context.Context, caller auth.CallerContext) ([]model.Repository, error)
	List(ctx context.Context, caller auth.CallerContext) ([]model.Repository, error)
	Get(ctx context.Context, id string, caller auth.CallerContext) (*model.Repository, error)
	WebhookConfig(ctx context.Context, id string, caller auth.CallerContext) (*service.WebhookSettings, error)
	UpdateWebhook(ctx context.Context, id string, caller auth.CallerContext, enabled bool, events []string) (*model.Repository, error)
	WebhookLogs(ctx context.Context, id string, caller auth.CallerContext) ([]model.WebhookLog, error)
}

// RepositoryHandler serves /repositories and its webhook settings.
type RepositoryHandler struct {
	repos  RepositoryService
	logger *slog.Logger
}

func NewRepositoryHandler(repos RepositoryService, logger *slog.Logger) *RepositoryHandler {
	return &RepositoryHandler{repos: repos, logger: logger}
}

// DataResponse wraps list and single-item payloads.
type DataResponse struct {
	Data any `json:"data"`
}

type SyncResponse struct {
	Success bool               `json:"success"`
	Count   int                `json:"count"`
	Data    []model.Repository `json:"data"`
}

// HandleList serves GET /repositories.
func (h *RepositoryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	repos, err := h.repos.List(r.Context(), caller)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if repos == nil {
		repos = []model.Repository{}
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: repos})
}

// HandleSync serves POST /repositories/sync.
func (h *RepositoryHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	repos, err := h.repos.Sync(r.Context(), caller)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if repos == nil {
		repos = []model.Repository{}
	}
	writeJSON(w, http.StatusOK, SyncResponse{Success: true, Count: len(repos), Data: repos})
}

// HandleGet serves GET /repositories/{id}.
func (h *RepositoryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	repo, err := h.repos.Get(r.Context(), chi.URLParam(r, "id"), caller)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: repo})
}

// HandleWebhookConfig serves GET /repositories/{id}/webhook.
func (h *RepositoryHandler) HandleWebhookConfig(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	cfg, err := h.repos.WebhookConfig(r.Context(), chi.URLParam(r, "id"), caller)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// UpdateWebhookRequest is the body of POST /repositories/{id}/webhook.
type UpdateWebhookRequest struct {
	Enabled bool     `json:"enabled"`
	Events  []string `json:"events"`
}

type UpdateWebhookResponse struct {
	Message    string            `json:"message"`
	Repository *model.Repository `json:"repository"`
}

// HandleUpdateWebhook serves POST /repositories/{id}/webhook.
func (h *RepositoryHandler) HandleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req UpdateWebhookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	repo, err := h.repos.UpdateWebhook(r.Context(), chi.URLParam(r, "id"), caller, req.Enabled, req.Events)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, UpdateWebhookResponse{Message: "webhook settings updated", Repository: repo})
}

// HandleWebhookLogs serves GET /repositories/{id}/webhook/logs.
func (h *RepositoryHandler) HandleWebhookLogs(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	logs, err := h.repos.WebhookLogs(r.Context(), chi.URLParam(r, "id"), caller)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if logs == nil {
		logs = []model.WebhookLog{}
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: logs})
}
