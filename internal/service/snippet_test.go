package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/auth"
	"github.com/sakif/repo-analyser/internal/llm"
	"github.com/sakif/repo-analyser/internal/model"
)

func TestSnippetReview(t *testing.T) {
	client := &fakeLLM{content: "Looks fine, but validate input."}
	svc := NewSnippetService(client, quietLogger())
	caller := auth.CallerContext{UserID: "user-1"}

	got, err := svc.Review(context.Background(), caller, model.Snippet{
		Code:     "eval(input())\n\n",
		Language: " Python ",
	})
	require.NoError(t, err)

	assert.Equal(t, "python", got.Language)
	assert.Equal(t, model.FocusGeneral, got.Focus)
	assert.Equal(t, "Looks fine, but validate input.", got.Analysis)

	req := client.lastRequest()
	assert.Equal(t, llm.OpSnippetAnalysis, req.Operation)
	assert.False(t, req.JSONMode)
	assert.LessOrEqual(t, req.Temperature, llm.MaxSnippetTemperature)
	assert.Contains(t, req.UserPrompt, "eval(input())")
}

func TestSnippetReview_Validation(t *testing.T) {
	tests := []struct {
		name  string
		in    model.Snippet
		field string
	}{
		{"empty code", model.Snippet{Code: "  \n", Language: "go"}, "code"},
		{"code too long", model.Snippet{Code: strings.Repeat("é", MaxSnippetCodeLength+1), Language: "go"}, "code"},
		{"no language", model.Snippet{Code: "x := 1"}, "language"},
		{"language with backticks", model.Snippet{Code: "x := 1", Language: "go```"}, "language"},
		{"unknown focus", model.Snippet{Code: "x := 1", Language: "go", Focus: "style"}, "focus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeLLM{content: "ok"}
			svc := NewSnippetService(client, quietLogger())

			_, err := svc.Review(context.Background(), auth.CallerContext{UserID: "user-1"}, tt.in)
			require.ErrorIs(t, err, apperror.ErrValidation)
			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Field)
			assert.Empty(t, client.requests, "model must not be called")
		})
	}
}

func TestSnippetReview_MaxLengthAccepted(t *testing.T) {
	svc := NewSnippetService(&fakeLLM{content: "ok"}, quietLogger())
	_, err := svc.Review(context.Background(), auth.CallerContext{UserID: "user-1"}, model.Snippet{
		Code: strings.Repeat("é", MaxSnippetCodeLength), Language: "go", Focus: "SECURITY",
	})
	assert.NoError(t, err)
}

func TestSnippetReview_Errors(t *testing.T) {
	svc := NewSnippetService(&fakeLLM{err: apperror.QuotaExceeded("429")}, quietLogger())

	_, err := svc.Review(context.Background(), auth.CallerContext{}, model.Snippet{Code: "x", Language: "go"})
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	_, err = svc.Review(context.Background(), auth.CallerContext{UserID: "user-1"}, model.Snippet{Code: "x", Language: "go"})
	assert.ErrorIs(t, err, apperror.ErrQuotaExceeded)
}
