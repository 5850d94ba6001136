package sqlstore

import (
	"context"
	"fmt"

	"github.com/rs/xid"
	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/model"
	"github.com/sakif/repo-analyser/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, github_id, login, name, email, avatar_url, sealed_token, created_at, updated_at`

// Upsert inserts the user or refreshes the profile of the existing row with the
// same github_id. The internal ID of an existing user never changes. An empty
// SealedToken keeps the stored token.
//
// On return user carries the canonical ID and timestamps.
func (db *DB) Upsert(ctx context.Context, user *model.User) error {
	now := db.now()
	_, err := db.conn.ExecContext(ctx, db.q(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (github_id) DO UPDATE SET
			login        = excluded.login,
			name         = excluded.name,
			email        = excluded.email,
			avatar_url   = excluded.avatar_url,
			sealed_token = CASE WHEN excluded.sealed_token <> '' THEN excluded.sealed_token ELSE users.sealed_token END,
			updated_at   = excluded.updated_at`),
		xid.New().String(),
		user.GitHubID,
		user.Login,
		user.Name,
		user.Email,
		user.AvatarURL,
		user.SealedToken,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: upserting user (githubID=%d): %w", user.GitHubID, err)
	}

	var stored model.User
	err = db.conn.GetContext(ctx, &stored,
		db.q(`SELECT `+userColumns+` FROM users WHERE github_id = ?`), user.GitHubID)
	if err != nil {
		return fmt.Errorf("sqlstore: reading back user (githubID=%d): %w", user.GitHubID, err)
	}
	*user = stored
	return nil
}

// GetUserByID returns apperror.ErrNotFound when no user has the id.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := db.conn.GetContext(ctx, &u, db.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if isNoRows(err) {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: getting user %s: %w", id, err)
	}
	return &u, nil
}

// ListUsersWithToken returns every user holding a sealed source-host token.
// The scheduled resync walks this list.
func (db *DB) ListUsersWithToken(ctx context.Context) ([]model.User, error) {
	users := []model.User{}
	err := db.conn.SelectContext(ctx, &users,
		`SELECT `+userColumns+` FROM users WHERE sealed_token <> '' ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing users with token: %w", err)
	}
	return users, nil
}
