// Package service holds the business rules of the analyser.
//
//	Handler (HTTP)  → Service (rules, orchestration) → Repository (store)
//	                                                 ↘ sourcehost / llm
//
// Services never see HTTP types. Identity arrives as an explicit
// auth.CallerContext argument, never from the request context, so the same
// methods serve HTTP requests, queue workers and the CLI.
package service

import (
	"context"
	"fmt"

	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/auth"
	"github.com/sakif/repo-analyser/internal/manifest"
	"github.com/sakif/repo-analyser/internal/model"
	"github.com/sakif/repo-analyser/internal/repository"
	"github.com/sakif/repo-analyser/internal/sourcehost"
)

// SourceHost is the slice of the source-host client the services use.
// *sourcehost.Client implements it.
type SourceHost interface {
	ListMyRepositories(ctx context.Context, token string) ([]model.Repository, error)
	GetTree(ctx context.Context, token, owner, name string) ([]sourcehost.TreeEntry, error)
	GetBlob(ctx context.Context, token, owner, name, path string) (string, error)
	GetReadme(ctx context.Context, token, owner, name string) (string, error)
	GetManifest(ctx context.Context, token, owner, name string) (*manifest.Manifest, error)
}

// TokenOpener unseals a stored OAuth token. *auth.Sealer implements it.
type TokenOpener interface {
	Open(sealed string) (string, error)
}

// ownedRepository loads a repository and checks it belongs to the caller.
// Nothing upstream is touched when this fails.
func ownedRepository(ctx context.Context, repos repository.RepoRepository, id string, caller auth.CallerContext) (*model.Repository, error) {
	if caller.UserID == "" {
		return nil, apperror.Unauthorized("no caller")
	}
	if id == "" {
		return nil, apperror.ValidationFailed("id", "repository id is required")
	}
	repo, err := repos.GetRepository(ctx, id)
	if err != nil {
		return nil, err
	}
	if repo.UserID != caller.UserID {
		return nil, apperror.Forbidden(fmt.Sprintf("repository %s belongs to another user", id))
	}
	return repo, nil
}
