package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/model"
	"github.com/sakif/repo-analyser/internal/repository"
)

var _ repository.RepoRepository = (*DB)(nil)

const repoColumns = `r.id, r.user_id, r.external_id, r.name, r.full_name, r.description, r.language,
	r.stars, r.forks, r.private, r.html_url, r.webhook_enabled, r.webhook_events, r.pushed_at,
	r.created_at, r.updated_at`

// repoRow is a repository joined with its most recent analysis, if any.
type repoRow struct {
	model.Repository
	LastID      sql.NullString `db:"last_id"`
	LastStatus  sql.NullString `db:"last_status"`
	LastScore   sql.NullInt64  `db:"last_score"`
	LastCreated sql.NullTime   `db:"last_created_at"`
}

func (r repoRow) toModel() model.Repository {
	repo := r.Repository
	if repo.WebhookEvents == nil {
		repo.WebhookEvents = model.EventSet{}
	}
	if r.LastID.Valid {
		repo.LastAnalysis = &model.LastSummary{
			AnalysisID:   r.LastID.String,
			Status:       model.AnalysisStatus(r.LastStatus.String),
			OverallScore: int(r.LastScore.Int64),
			CreatedAt:    r.LastCreated.Time,
		}
	}
	return repo
}

const repoSelect = `SELECT ` + repoColumns + `,
	a.id AS last_id, a.status AS last_status, a.overall_score AS last_score, a.created_at AS last_created_at
	FROM repositories r
	LEFT JOIN repository_analyses a ON a.id = (
		SELECT la.id FROM repository_analyses la
		WHERE la.repository_id = r.id
		ORDER BY la.created_at DESC, la.id DESC
		LIMIT 1
	)`

// UpsertRepositories inserts or refreshes the descriptors of repos for userID
// in one transaction. Rows are matched on (user_id, external_id). The webhook
// configuration of existing rows is left untouched.
func (db *DB) UpsertRepositories(ctx context.Context, userID string, repos []model.Repository) ([]model.Repository, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: beginning repository sync: %w", err)
	}
	defer tx.Rollback()

	now := db.now()
	upsert := db.q(`
		INSERT INTO repositories (id, user_id, external_id, name, full_name, description, language,
			stars, forks, private, html_url, webhook_enabled, webhook_events, pushed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, external_id) DO UPDATE SET
			name        = excluded.name,
			full_name   = excluded.full_name,
			description = excluded.description,
			language    = excluded.language,
			stars       = excluded.stars,
			forks       = excluded.forks,
			private     = excluded.private,
			html_url    = excluded.html_url,
			pushed_at   = excluded.pushed_at,
			updated_at  = excluded.updated_at`)

	ids := make([]int64, 0, len(repos))
	for _, r := range repos {
		var pushed *time.Time
		if r.PushedAt != nil {
			t := r.PushedAt.UTC()
			pushed = &t
		}
		_, err := tx.ExecContext(ctx, upsert,
			xid.New().String(), userID, r.ExternalID, r.Name, r.FullName, r.Description, r.Language,
			r.Stars, r.Forks, r.Private, r.HTMLURL, false, model.EventSet(model.DefaultWebhookEvents),
			pushed, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: upserting repository %s: %w", r.FullName, err)
		}
		ids = append(ids, r.ExternalID)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlstore: committing repository sync: %w", err)
	}

	if len(ids) == 0 {
		return []model.Repository{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	return db.selectRepos(ctx,
		repoSelect+` WHERE r.user_id = ? AND r.external_id IN (`+placeholders+`) ORDER BY r.full_name`,
		args...)
}

// ListByOwner returns the user's repositories, most starred first and then
// by full name, each with its latest analysis summary.
func (db *DB) ListByOwner(ctx context.Context, userID string) ([]model.Repository, error) {
	return db.selectRepos(ctx, repoSelect+` WHERE r.user_id = ? ORDER BY r.stars DESC, r.full_name`, userID)
}

func (db *DB) GetRepository(ctx context.Context, id string) (*model.Repository, error) {
	var row repoRow
	err := db.conn.GetContext(ctx, &row, db.q(repoSelect+` WHERE r.id = ?`), id)
	if isNoRows(err) {
		return nil, apperror.NotFound("repository", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: getting repository %s: %w", id, err)
	}
	repo := row.toModel()
	return &repo, nil
}

// GetByExternalID resolves a webhook's repository. Several users can import the
// same source-host repository; the row with webhooks enabled wins, then the
// oldest.
func (db *DB) GetByExternalID(ctx context.Context, externalID int64) (*model.Repository, error) {
	var row repoRow
	err := db.conn.GetContext(ctx, &row,
		db.q(repoSelect+` WHERE r.external_id = ? ORDER BY r.webhook_enabled DESC, r.created_at ASC, r.id ASC LIMIT 1`),
		externalID)
	if isNoRows(err) {
		return nil, apperror.NotFound("repository", fmt.Sprintf("external:%d", externalID))
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: getting repository by external id %d: %w", externalID, err)
	}
	repo := row.toModel()
	return &repo, nil
}

func (db *DB) UpdateWebhookConfig(ctx context.Context, id string, enabled bool, events model.EventSet) (*model.Repository, error) {
	res, err := db.conn.ExecContext(ctx,
		db.q(`UPDATE repositories SET webhook_enabled = ?, webhook_events = ?, updated_at = ? WHERE id = ?`),
		enabled, events.Normalised(), db.now(), id)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: updating webhook config of %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, apperror.NotFound("repository", id)
	}
	return db.GetRepository(ctx, id)
}

func (db *DB) selectRepos(ctx context.Context, query string, args ...any) ([]model.Repository, error) {
	var rows []repoRow
	if err := db.conn.SelectContext(ctx, &rows, db.q(query), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: listing repositories: %w", err)
	}
	repos := make([]model.Repository, 0, len(rows))
	for _, r := range rows {
		repos = append(repos, r.toModel())
	}
	return repos, nil
}
