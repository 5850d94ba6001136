package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/auth"
	"github.com/sakif/repo-analyser/internal/llm"
	"github.com/sakif/repo-analyser/internal/model"
	"github.com/sakif/repo-analyser/internal/prompt"
)

// Validation limits for snippet reviews.
const (
	MaxSnippetCodeLength     = 20000
	MaxSnippetLanguageLength = 40
)

var snippetFocuses = map[string]bool{
	model.FocusGeneral:     true,
	model.FocusSecurity:    true,
	model.FocusQuality:     true,
	model.FocusPerformance: true,
}

// SnippetService asks the model for a free-text review of a pasted snippet.
// Nothing is stored.
type SnippetService struct {
	llm    llm.Client
	logger *slog.Logger
}

func NewSnippetService(client llm.Client, logger *slog.Logger) *SnippetService {
	return &SnippetService{llm: client, logger: logger}
}

// Review validates the snippet and returns the model's answer.
//
// Validation happens here rather than in the handler so every caller gets the
// same rules: code is required and at most MaxSnippetCodeLength characters,
// language is required, focus defaults to general.
func (s *SnippetService) Review(ctx context.Context, caller auth.CallerContext, in model.Snippet) (*model.SnippetReview, error) {
	if caller.UserID == "" {
		return nil, apperror.Unauthorized("no caller")
	}

	code := strings.TrimRight(in.Code, " \t\r\n")
	if strings.TrimSpace(code) == "" {
		return nil, apperror.ValidationFailed("code", "code is required")
	}
	if n := len([]rune(code)); n > MaxSnippetCodeLength {
		return nil, apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d characters or less", MaxSnippetCodeLength))
	}

	language := strings.ToLower(strings.TrimSpace(in.Language))
	if language == "" {
		return nil, apperror.ValidationFailed("language", "language is required")
	}
	if len(language) > MaxSnippetLanguageLength || strings.ContainsAny(language, "`\n") {
		return nil, apperror.ValidationFailed("language", "language is not valid")
	}

	focus := strings.ToLower(strings.TrimSpace(in.Focus))
	if focus == "" {
		focus = model.FocusGeneral
	}
	if !snippetFocuses[focus] {
		return nil, apperror.ValidationFailed("focus", "focus must be one of security, quality, performance, general")
	}

	resp, err := s.llm.Complete(ctx, llm.Request{
		Operation:    llm.OpSnippetAnalysis,
		SystemPrompt: prompt.SnippetSystem,
		UserPrompt:   prompt.Snippet(prompt.Redact(code), language, focus),
		MaxTokens:    llm.SnippetMaxTokens,
		Temperature:  llm.MaxSnippetTemperature,
	})
	if err != nil {
		s.logger.Warn("snippet review failed",
			slog.String("user_id", caller.UserID),
			slog.String("kind", apperror.Kind(err)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("reviewing snippet: %w", err)
	}

	s.logger.Info("snippet reviewed",
		slog.String("user_id", caller.UserID),
		slog.String("language", language),
		slog.String("focus", focus),
		slog.Int("tokens", resp.TokensUsed),
	)
	return &model.SnippetReview{Language: language, Focus: focus, Analysis: resp.Content}, nil
}
