// Package repository declares the storage interfaces the services depend on.
// Implementations live in subpackages (sqlstore); services only see these
// interfaces, so tests can swap in fakes.
package repository

import (
	"context"
	"time"

	"github.com/sakif/repo-analyser/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

type UserRepository interface {
	Upsert(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	ListUsersWithToken(ctx context.Context) ([]model.User, error)
}

// RepoRepository stores source-host repositories. Rows are upserted by sync
// and never deleted by the application.
type RepoRepository interface {
	UpsertRepositories(ctx context.Context, userID string, repos []model.Repository) ([]model.Repository, error)
	ListByOwner(ctx context.Context, userID string) ([]model.Repository, error)
	GetRepository(ctx context.Context, id string) (*model.Repository, error)
	GetByExternalID(ctx context.Context, externalID int64) (*model.Repository, error)
	UpdateWebhookConfig(ctx context.Context, id string, enabled bool, events model.EventSet) (*model.Repository, error)
}

// AnalysisRepository is append-only: there is deliberately no update or
// delete, so a written analysis can never change.
type AnalysisRepository interface {
	InsertAnalysis(ctx context.Context, a *model.Analysis) error
	ListByRepository(ctx context.Context, repositoryID string) ([]model.Analysis, error)
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]model.Analysis, error)
	LatestCompleted(ctx context.Context, repositoryID string) (*model.Analysis, error)
	// UserStats aggregates the user's whole history. ThisWeek counts rows
	// created at or after since.
	UserStats(ctx context.Context, userID string, since time.Time) (model.AnalysisStats, error)
}

type WebhookLogRepository interface {
	InsertWebhookLog(ctx context.Context, l *model.WebhookLog) error
	ListWebhookLogs(ctx context.Context, repositoryID string, opts ListOptions) ([]model.WebhookLog, error)
}

// Store is the full facade implemented by sqlstore.DB.
type Store interface {
	UserRepository
	RepoRepository
	AnalysisRepository
	WebhookLogRepository
}
