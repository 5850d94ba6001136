package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/repo-analyser/internal/auth"
	"github.com/sakif/repo-analyser/internal/model"
)

// SnippetReviewer is implemented by *service.SnippetService.
type SnippetReviewer interface {
	Review(ctx context.Context, caller auth.CallerContext, in model.Snippet) (*model.SnippetReview, error)
}

type SnippetHandler struct {
	reviewer SnippetReviewer
	logger   *slog.Logger
}

func NewSnippetHandler(reviewer SnippetReviewer, logger *slog.Logger) *SnippetHandler {
	return &SnippetHandler{reviewer: reviewer, logger: logger}
}

// HandleAnalyse serves POST /snippets/analyse.
//
// Request:  {"code": "...", "language": "python", "focus": "security"}
// Response: {"language": "python", "focus": "security", "analysis": "..."}
func (h *SnippetHandler) HandleAnalyse(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var in model.Snippet
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	review, err := h.reviewer.Review(r.Context(), caller, in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}
