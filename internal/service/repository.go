package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/auth"
	"github.com/sakif/repo-analyser/internal/metrics"
	"github.com/sakif/repo-analyser/internal/model"
	"github.com/sakif/repo-analyser/internal/repository"
)

// WebhookPath is where the source host delivers events.
const WebhookPath = "/webhooks/source-host"

// RepositoryService imports the caller's repositories from the source host and
// manages their webhook settings.
type RepositoryService struct {
	repos      repository.RepoRepository
	users      repository.UserRepository
	logs       repository.WebhookLogRepository
	host       SourceHost
	opener     TokenOpener
	webhookURL string
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewRepositoryService(
	repos repository.RepoRepository,
	users repository.UserRepository,
	logs repository.WebhookLogRepository,
	host SourceHost,
	opener TokenOpener,
	publicBaseURL string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *RepositoryService {
	return &RepositoryService{
		repos:      repos,
		users:      users,
		logs:       logs,
		host:       host,
		opener:     opener,
		webhookURL: strings.TrimRight(publicBaseURL, "/") + WebhookPath,
		metrics:    m,
		logger:     logger,
	}
}

// Sync upserts every repository the caller can see. Running it twice with no
// upstream change leaves the rows unchanged apart from updated_at.
func (s *RepositoryService) Sync(ctx context.Context, caller auth.CallerContext) ([]model.Repository, error) {
	if caller.UserID == "" {
		return nil, apperror.Unauthorized("no caller")
	}
	if caller.OAuthToken == "" {
		return nil, apperror.Unauthorized("no source-host token for caller, sign in again")
	}

	remote, err := s.host.ListMyRepositories(ctx, caller.OAuthToken)
	if err != nil {
		return nil, fmt.Errorf("listing repositories from source host: %w", err)
	}
	stored, err := s.repos.UpsertRepositories(ctx, caller.UserID, remote)
	if err != nil {
		return nil, fmt.Errorf("storing repositories: %w", err)
	}

	s.metrics.RecordSync(len(stored))
	s.logger.Info("repositories synced",
		slog.String("user_id", caller.UserID),
		slog.Int("count", len(stored)),
	)
	return stored, nil
}

// SyncAll resyncs every user with a stored token. A failing user is logged and
// skipped; the joined errors are returned at the end.
func (s *RepositoryService) SyncAll(ctx context.Context) (int, error) {
	users, err := s.users.ListUsersWithToken(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing users: %w", err)
	}

	var errs []error
	total := 0
	for _, u := range users {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		token, err := s.opener.Open(u.SealedToken)
		if err != nil {
			s.logger.Warn("skipping user with unreadable token", slog.String("user_id", u.ID), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("user %s: %w", u.ID, err))
			continue
		}
		repos, err := s.Sync(ctx, auth.CallerContext{UserID: u.ID, OAuthToken: token})
		if err != nil {
			s.logger.Warn("scheduled sync failed", slog.String("user_id", u.ID), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("user %s: %w", u.ID, err))
			continue
		}
		total += len(repos)
	}
	return total, errors.Join(errs...)
}

func (s *RepositoryService) List(ctx context.Context, caller auth.CallerContext) ([]model.Repository, error) {
	if caller.UserID == "" {
		return nil, apperror.Unauthorized("no caller")
	}
	repos, err := s.repos.ListByOwner(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	return repos, nil
}

func (s *RepositoryService) Get(ctx context.Context, id string, caller auth.CallerContext) (*model.Repository, error) {
	return ownedRepository(ctx, s.repos, id, caller)
}

// WebhookLogLimit is how many deliveries WebhookLogs returns.
const WebhookLogLimit = 50

// WebhookLogs returns the latest deliveries for the repository, newest first.
func (s *RepositoryService) WebhookLogs(ctx context.Context, id string, caller auth.CallerContext) ([]model.WebhookLog, error) {
	repo, err := ownedRepository(ctx, s.repos, id, caller)
	if err != nil {
		return nil, err
	}
	logs, err := s.logs.ListWebhookLogs(ctx, repo.ID, repository.ListOptions{Limit: WebhookLogLimit})
	if err != nil {
		return nil, fmt.Errorf("listing webhook logs of %s: %w", repo.ID, err)
	}
	return logs, nil
}

// WebhookSettings is the webhook view of a repository.
type WebhookSettings struct {
	Enabled bool     `json:"enabled"`
	Events  []string `json:"events"`
	URL     string   `json:"url"`
}

func (s *RepositoryService) WebhookConfig(ctx context.Context, id string, caller auth.CallerContext) (*WebhookSettings, error) {
	repo, err := ownedRepository(ctx, s.repos, id, caller)
	if err != nil {
		return nil, err
	}
	events := []string(repo.WebhookEvents)
	if len(events) == 0 {
		events = model.DefaultWebhookEvents
	}
	return &WebhookSettings{Enabled: repo.WebhookEnabled, Events: events, URL: s.webhookURL}, nil
}

// UpdateWebhook stores the webhook settings. events must be a subset of
// {push, pull_request}; nil or empty means both.
func (s *RepositoryService) UpdateWebhook(ctx context.Context, id string, caller auth.CallerContext, enabled bool, events []string) (*model.Repository, error) {
	if _, err := ownedRepository(ctx, s.repos, id, caller); err != nil {
		return nil, err
	}

	set := model.EventSet(events).Normalised()
	if len(set) == 0 {
		set = model.EventSet(model.DefaultWebhookEvents).Normalised()
	}
	for _, e := range set {
		if !model.ValidEvent(e) {
			return nil, apperror.ValidationFailed("events", fmt.Sprintf("unknown webhook event %q", e))
		}
	}

	repo, err := s.repos.UpdateWebhookConfig(ctx, id, enabled, set)
	if err != nil {
		return nil, fmt.Errorf("updating webhook config: %w", err)
	}
	s.logger.Info("webhook config updated",
		slog.String("repository_id", id),
		slog.Bool("enabled", enabled),
		slog.Any("events", []string(set)),
	)
	return repo, nil
}
