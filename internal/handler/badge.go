package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/repo-analyser/internal/badge"
)

// ScoreSource returns a repository's latest completed score, nil if none.
type ScoreSource interface {
	LatestScore(ctx context.Context, repositoryID string) (*int, error)
}

// BadgeHandler serves the public quality badge. It always answers with an
// image: unknown repositories and store failures render the "no analysis"
// badge so embedded images never break.
type BadgeHandler struct {
	scores ScoreSource
	logger *slog.Logger
}

func NewBadgeHandler(scores ScoreSource, logger *slog.Logger) *BadgeHandler {
	return &BadgeHandler{scores: scores, logger: logger}
}

// HandleBadge serves GET /repositories/{id}/badge.
func (h *BadgeHandler) HandleBadge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b := badge.NoAnalysis()
	score, err := h.scores.LatestScore(r.Context(), id)
	switch {
	case err != nil:
		h.logger.Warn("badge score lookup failed", slog.String("repository_id", id), slog.String("error", err.Error()))
	case score != nil:
		b = badge.ForScore(*score)
	}

	w.Header().Set("Content-Type", badge.ContentType)
	w.Header().Set("Cache-Control", badge.CacheControl)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(b.SVG()))
}
