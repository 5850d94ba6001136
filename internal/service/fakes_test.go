package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/llm"
	"github.com/sakif/repo-analyser/internal/manifest"
	"github.com/sakif/repo-analyser/internal/model"
	"github.com/sakif/repo-analyser/internal/queue"
	"github.com/sakif/repo-analyser/internal/repository"
	"github.com/sakif/repo-analyser/internal/sourcehost"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory repository.Store. Rows are kept in insertion
// order; listings return newest first like the SQL store.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	byGHID   map[int64]string
	repos    map[string]*model.Repository
	analyses []model.Analysis
	logs     []model.WebhookLog
	nextID   int
	clock    time.Time

	upsertErr error
	insertErr error
	logErr    error

	// lastUserList records the options of the latest ListByUser call.
	lastUserList repository.ListOptions
}

var _ repository.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[string]*model.User),
		byGHID: make(map[int64]string),
		repos:  make(map[string]*model.Repository),
		clock:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

// tick hands out strictly increasing timestamps.
func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

func (f *fakeStore) Upsert(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if id, ok := f.byGHID[u.GitHubID]; ok {
		existing := f.users[id]
		existing.Login, existing.Name, existing.Email, existing.AvatarURL = u.Login, u.Name, u.Email, u.AvatarURL
		if u.SealedToken != "" {
			existing.SealedToken = u.SealedToken
		}
		existing.UpdatedAt = f.tick()
		*u = *existing
		return nil
	}
	u.ID = f.id("user")
	u.CreatedAt = f.tick()
	u.UpdatedAt = u.CreatedAt
	stored := *u
	f.users[u.ID] = &stored
	f.byGHID[u.GitHubID] = u.ID
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) ListUsersWithToken(context.Context) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.User
	for _, u := range f.users {
		if u.SealedToken != "" {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// addRepo stores r directly, bypassing sync.
func (f *fakeStore) addRepo(r model.Repository) *model.Repository {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.ID == "" {
		r.ID = f.id("repo")
	}
	if r.WebhookEvents == nil {
		r.WebhookEvents = model.EventSet(model.DefaultWebhookEvents).Normalised()
	}
	f.repos[r.ID] = &r
	return &r
}

func (f *fakeStore) UpsertRepositories(_ context.Context, userID string, repos []model.Repository) ([]model.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	out := make([]model.Repository, 0, len(repos))
	for _, r := range repos {
		var existing *model.Repository
		for _, s := range f.repos {
			if s.UserID == userID && s.ExternalID == r.ExternalID {
				existing = s
			}
		}
		if existing == nil {
			r.ID = f.id("repo")
			r.UserID = userID
			r.WebhookEnabled = false
			r.WebhookEvents = model.EventSet(model.DefaultWebhookEvents).Normalised()
			r.CreatedAt = f.tick()
			existing = &r
			f.repos[r.ID] = existing
		} else {
			existing.Name, existing.FullName = r.Name, r.FullName
			existing.Description, existing.Language = r.Description, r.Language
			existing.Stars, existing.Forks, existing.Private = r.Stars, r.Forks, r.Private
			existing.HTMLURL, existing.PushedAt = r.HTMLURL, r.PushedAt
		}
		existing.UpdatedAt = f.tick()
		out = append(out, *existing)
	}
	return out, nil
}

func (f *fakeStore) ListByOwner(_ context.Context, userID string) ([]model.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Repository
	for _, r := range f.repos {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stars != out[j].Stars {
			return out[i].Stars > out[j].Stars
		}
		return out[i].FullName < out[j].FullName
	})
	return out, nil
}

func (f *fakeStore) GetRepository(_ context.Context, id string) (*model.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.repos[id]
	if !ok {
		return nil, apperror.NotFound("repository", id)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) GetByExternalID(_ context.Context, externalID int64) (*model.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.repos {
		if r.ExternalID == externalID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("repository", fmt.Sprint(externalID))
}

func (f *fakeStore) UpdateWebhookConfig(_ context.Context, id string, enabled bool, events model.EventSet) (*model.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.repos[id]
	if !ok {
		return nil, apperror.NotFound("repository", id)
	}
	r.WebhookEnabled = enabled
	r.WebhookEvents = events.Normalised()
	cp := *r
	return &cp, nil
}

func (f *fakeStore) InsertAnalysis(_ context.Context, a *model.Analysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	a.ID = f.id("analysis")
	if a.CreatedAt.IsZero() {
		a.CreatedAt = f.tick()
	}
	f.analyses = append(f.analyses, *a)
	return nil
}

// newestFirst returns the analyses matching keep, newest first.
func (f *fakeStore) newestFirst(keep func(model.Analysis) bool) []model.Analysis {
	var out []model.Analysis
	for i := len(f.analyses) - 1; i >= 0; i-- {
		if keep(f.analyses[i]) {
			out = append(out, f.analyses[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f *fakeStore) ListByRepository(_ context.Context, repositoryID string) ([]model.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.newestFirst(func(a model.Analysis) bool { return a.RepositoryID == repositoryID }), nil
}

func (f *fakeStore) ListByUser(_ context.Context, userID string, opts repository.ListOptions) ([]model.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUserList = opts
	out := f.newestFirst(func(a model.Analysis) bool { return a.UserID == userID })
	if opts.Offset > 0 {
		out = out[min(opts.Offset, len(out)):]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeStore) LatestCompleted(_ context.Context, repositoryID string) (*model.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.newestFirst(func(a model.Analysis) bool {
		return a.RepositoryID == repositoryID && a.Status == model.AnalysisCompleted
	})
	if len(list) == 0 {
		return nil, apperror.NotFound("analysis", repositoryID)
	}
	return &list[0], nil
}

func (f *fakeStore) UserStats(_ context.Context, userID string, since time.Time) (model.AnalysisStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	repos := make(map[string]bool)
	var st model.AnalysisStats
	var totalMS int64
	var timed int
	for _, a := range f.analyses {
		if a.UserID != userID {
			continue
		}
		st.Total++
		if !a.CreatedAt.Before(since) {
			st.ThisWeek++
		}
		repos[a.RepositoryID] = true
		if a.DurationMS > 0 {
			totalMS += a.DurationMS
			timed++
		}
	}
	st.Repositories = len(repos)
	if timed > 0 {
		st.AvgDurationSeconds = float64(totalMS) / float64(timed) / 1000
	}
	return st, nil
}

func (f *fakeStore) InsertWebhookLog(_ context.Context, l *model.WebhookLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logErr != nil {
		return f.logErr
	}
	l.ID = f.id("log")
	l.CreatedAt = f.tick()
	f.logs = append(f.logs, *l)
	return nil
}

func (f *fakeStore) ListWebhookLogs(_ context.Context, repositoryID string, opts repository.ListOptions) ([]model.WebhookLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.WebhookLog
	for i := len(f.logs) - 1; i >= 0; i-- {
		if f.logs[i].RepositoryID == repositoryID {
			out = append(out, f.logs[i])
		}
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeStore) analysisCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.analyses)
}

// fakeHost serves a single canned repository.
type fakeHost struct {
	mu sync.Mutex

	repos   []model.Repository
	listErr error

	readme    string
	readmeErr error
	tree      []sourcehost.TreeEntry
	treeErr   error
	blobs     map[string]string
	// blobErrs are returned, in order, before the blob itself is served.
	blobErrs    map[string][]error
	blobDelay   map[string]time.Duration
	manifest    *manifest.Manifest
	manifestErr error

	// hang makes GetTree wait for its context.
	hang bool

	calls     int
	blobCalls map[string]int
	tokens    []string
}

var _ SourceHost = (*fakeHost)(nil)

func (h *fakeHost) record(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.tokens = append(h.tokens, token)
}

func (h *fakeHost) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func (h *fakeHost) ListMyRepositories(_ context.Context, token string) ([]model.Repository, error) {
	h.record(token)
	return h.repos, h.listErr
}

func (h *fakeHost) GetTree(ctx context.Context, token, _, _ string) ([]sourcehost.TreeEntry, error) {
	h.record(token)
	if h.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return h.tree, h.treeErr
}

func (h *fakeHost) GetBlob(ctx context.Context, token, _, _, path string) (string, error) {
	h.record(token)
	h.mu.Lock()
	if h.blobCalls == nil {
		h.blobCalls = make(map[string]int)
	}
	h.blobCalls[path]++
	var err error
	if queued := h.blobErrs[path]; len(queued) > 0 {
		err, h.blobErrs[path] = queued[0], queued[1:]
	}
	delay := h.blobDelay[path]
	content, ok := h.blobs[path]
	h.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperror.NotFound("blob", path)
	}
	return content, nil
}

func (h *fakeHost) GetReadme(_ context.Context, token, _, _ string) (string, error) {
	h.record(token)
	if h.readmeErr != nil {
		return "", h.readmeErr
	}
	if h.readme == "" {
		return "", apperror.NotFound("readme", "README")
	}
	return h.readme, nil
}

func (h *fakeHost) GetManifest(_ context.Context, token, _, _ string) (*manifest.Manifest, error) {
	h.record(token)
	if h.manifestErr != nil {
		return nil, h.manifestErr
	}
	if h.manifest == nil {
		return nil, apperror.NotFound("manifest", "package.json")
	}
	return h.manifest, nil
}

// fakeLLM answers every request with the same content.
type fakeLLM struct {
	mu       sync.Mutex
	content  string
	err      error
	hang     bool
	requests []llm.Request
}

var _ llm.Client = (*fakeLLM)(nil)

func (c *fakeLLM) Name() string { return "fake" }

func (c *fakeLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.hang {
		<-ctx.Done()
		return llm.Response{}, ctx.Err()
	}
	if c.err != nil {
		return llm.Response{Content: c.content}, c.err
	}
	return llm.Response{Content: c.content, Model: "fake-model"}, nil
}

func (c *fakeLLM) lastRequest() llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return llm.Request{}
	}
	return c.requests[len(c.requests)-1]
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, t queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, t)
	return nil
}

// fakeSealer "seals" by prefixing, which is enough to check tokens travel
// through the store sealed and come back opened.
type fakeSealer struct{}

func (fakeSealer) Seal(p string) (string, error) { return "sealed:" + p, nil }

func (fakeSealer) Open(s string) (string, error) {
	p, ok := strings.CutPrefix(s, "sealed:")
	if !ok {
		return "", errors.New("not sealed")
	}
	return p, nil
}
