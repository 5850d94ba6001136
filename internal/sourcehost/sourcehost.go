// Package sourcehost is a typed facade over the GitHub REST API.
//
// Every call authenticates with the caller's OAuth token, passed in
// explicitly; the client keeps no per-user state, never caches and never
// retries. Retrying is the caller's decision, made on the typed error kinds
// from internal/apperror.
package sourcehost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	gogithub "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/manifest"
	"github.com/sakif/repo-analyser/internal/model"
)

// DefaultMaxBlobBytes bounds GetBlob when Options.MaxBlobBytes is zero.
const DefaultMaxBlobBytes = 1 << 20

// TreeEntry is one node of a repository tree. Size is nil for trees.
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // blob | tree
	Size *int   `json:"size,omitempty"`
}

type Options struct {
	// BaseURL is the API root of a GitHub Enterprise server. Empty means github.com.
	BaseURL      string
	MaxBlobBytes int
	// HTTPClient is the transport under the OAuth layer. Nil uses http.DefaultClient.
	HTTPClient *http.Client
}

type Client struct {
	baseURL      string
	maxBlobBytes int
	httpClient   *http.Client
	manifests    *manifest.Registry
	logger       *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Client {
	if opts.MaxBlobBytes <= 0 {
		opts.MaxBlobBytes = DefaultMaxBlobBytes
	}
	return &Client{
		baseURL:      opts.BaseURL,
		maxBlobBytes: opts.MaxBlobBytes,
		httpClient:   opts.HTTPClient,
		manifests:    manifest.NewRegistry(),
		logger:       logger,
	}
}

// api builds a go-github client bound to token for the duration of one call.
func (c *Client) api(ctx context.Context, token string) (*gogithub.Client, error) {
	if token == "" {
		return nil, apperror.Unauthorized("no source-host token for caller")
	}
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	client := gogithub.NewClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})))
	if c.baseURL != "" {
		base := strings.TrimRight(c.baseURL, "/") + "/"
		var err error
		client, err = client.WithEnterpriseURLs(base, base)
		if err != nil {
			return nil, fmt.Errorf("sourcehost: configuring base URL %s: %w", c.baseURL, err)
		}
	}
	return client, nil
}

// ListMyRepositories returns up to 100 repositories the token's owner can
// access, most recently updated first.
func (c *Client) ListMyRepositories(ctx context.Context, token string) ([]model.Repository, error) {
	api, err := c.api(ctx, token)
	if err != nil {
		return nil, err
	}
	repos, resp, err := api.Repositories.List(ctx, "", &gogithub.RepositoryListOptions{
		Visibility:  "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gogithub.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, mapError("listing repositories", resp, err)
	}
	return convertRepos(repos), nil
}

func convertRepos(in []*gogithub.Repository) []model.Repository {
	out := make([]model.Repository, 0, len(in))
	for _, r := range in {
		if r == nil {
			continue
		}
		repo := model.Repository{
			ExternalID:  r.GetID(),
			Name:        r.GetName(),
			FullName:    r.GetFullName(),
			Description: r.GetDescription(),
			Language:    r.GetLanguage(),
			Stars:       r.GetStargazersCount(),
			Forks:       r.GetForksCount(),
			Private:     r.GetPrivate(),
			HTMLURL:     r.GetHTMLURL(),
		}
		if r.PushedAt != nil {
			t := r.GetPushedAt().UTC()
			repo.PushedAt = &t
		}
		out = append(out, repo)
	}
	return out
}

// GetTree returns the full recursive tree of the default branch.
func (c *Client) GetTree(ctx context.Context, token, owner, name string) ([]TreeEntry, error) {
	api, err := c.api(ctx, token)
	if err != nil {
		return nil, err
	}
	repo, resp, err := api.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, mapError("getting repository "+owner+"/"+name, resp, err)
	}
	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = "HEAD"
	}

	tree, resp, err := api.Git.GetTree(ctx, owner, name, branch, true)
	if err != nil {
		// An empty repository has no tree yet.
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return []TreeEntry{}, nil
		}
		return nil, mapError("getting tree of "+owner+"/"+name, resp, err)
	}
	if tree.GetTruncated() {
		c.logger.Warn("sourcehost: tree truncated", slog.String("repo", owner+"/"+name), slog.Int("entries", len(tree.Entries)))
	}

	entries := make([]TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		entry := TreeEntry{Path: e.GetPath(), Type: e.GetType()}
		if e.Size != nil {
			size := e.GetSize()
			entry.Size = &size
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetBlob returns the UTF-8 text of one file on the default branch.
func (c *Client) GetBlob(ctx context.Context, token, owner, name, path string) (string, error) {
	api, err := c.api(ctx, token)
	if err != nil {
		return "", err
	}
	file, _, resp, err := api.Repositories.GetContents(ctx, owner, name, path, nil)
	if err != nil {
		return "", mapError("getting "+path, resp, err)
	}
	if file == nil {
		return "", apperror.NotFound("file", path)
	}
	if file.GetSize() > c.maxBlobBytes {
		return "", apperror.TooLarge(path, file.GetSize(), c.maxBlobBytes)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", apperror.Decode(path, err.Error())
	}
	if err := checkText(content); err != nil {
		return "", apperror.Decode(path, err.Error())
	}
	return content, nil
}

// GetReadme returns the repository README or apperror.ErrNotFound.
func (c *Client) GetReadme(ctx context.Context, token, owner, name string) (string, error) {
	api, err := c.api(ctx, token)
	if err != nil {
		return "", err
	}
	readme, resp, err := api.Repositories.GetReadme(ctx, owner, name, nil)
	if err != nil {
		return "", mapError("getting README of "+owner+"/"+name, resp, err)
	}
	content, err := readme.GetContent()
	if err != nil {
		return "", apperror.Decode("README", err.Error())
	}
	return content, nil
}

// GetManifest returns the first root manifest found, checked in
// manifest.Filenames order, or apperror.ErrNotFound when there is none.
func (c *Client) GetManifest(ctx context.Context, token, owner, name string) (*manifest.Manifest, error) {
	api, err := c.api(ctx, token)
	if err != nil {
		return nil, err
	}
	for _, filename := range manifest.Filenames() {
		file, _, resp, err := api.Repositories.GetContents(ctx, owner, name, filename, nil)
		if err != nil {
			mapped := mapError("getting "+filename, resp, err)
			if errors.Is(mapped, apperror.ErrNotFound) {
				continue
			}
			return nil, mapped
		}
		if file == nil {
			continue
		}
		content, err := file.GetContent()
		if err != nil {
			return nil, apperror.Decode(filename, err.Error())
		}
		m, err := c.manifests.Parse(filename, []byte(content))
		if err != nil {
			return nil, apperror.Decode(filename, err.Error())
		}
		return m, nil
	}
	return nil, apperror.NotFound("manifest", owner+"/"+name)
}

// checkText rejects content that is not UTF-8 or looks binary. A file counts
// as binary when more than 1 in 10 of its first 8000 bytes are NUL.
func checkText(s string) error {
	if !utf8.ValidString(s) {
		return errors.New("content is not valid UTF-8")
	}
	head := s
	if len(head) > 8000 {
		head = head[:8000]
	}
	if n := bytes.Count([]byte(head), []byte{0}); n > 0 && n*10 > len(head) {
		return errors.New("content looks binary")
	}
	return nil
}
