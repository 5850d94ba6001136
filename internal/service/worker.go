package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/auth"
	"github.com/sakif/repo-analyser/internal/queue"
	"github.com/sakif/repo-analyser/internal/repository"
)

// AnalysisWorker runs queued analysis tasks as the repository's owner.
type AnalysisWorker struct {
	users    repository.UserRepository
	opener   TokenOpener
	analyses *AnalysisService
	logger   *slog.Logger
}

func NewAnalysisWorker(users repository.UserRepository, opener TokenOpener, analyses *AnalysisService, logger *slog.Logger) *AnalysisWorker {
	return &AnalysisWorker{users: users, opener: opener, analyses: analyses, logger: logger}
}

// Handle is a queue.Handler.
func (w *AnalysisWorker) Handle(ctx context.Context, t queue.Task) error {
	user, err := w.users.GetUserByID(ctx, t.UserID)
	if err != nil {
		return fmt.Errorf("loading owner %s: %w", t.UserID, err)
	}
	if user.SealedToken == "" {
		return apperror.Unauthorized(fmt.Sprintf("user %s has no stored source-host token", user.ID))
	}
	token, err := w.opener.Open(user.SealedToken)
	if err != nil {
		return apperror.Unauthorized(fmt.Sprintf("cannot open token of user %s: %v", user.ID, err))
	}

	w.logger.Info("running queued analysis",
		slog.String("repository_id", t.RepositoryID),
		slog.String("reason", t.Reason),
	)
	_, err = w.analyses.Analyse(ctx, t.RepositoryID, auth.CallerContext{UserID: user.ID, OAuthToken: token})
	return err
}
