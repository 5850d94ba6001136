package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/repo-analyser/internal/analysis"
	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/auth"
	"github.com/sakif/repo-analyser/internal/llm"
	"github.com/sakif/repo-analyser/internal/metrics"
	"github.com/sakif/repo-analyser/internal/model"
	"github.com/sakif/repo-analyser/internal/prompt"
	"github.com/sakif/repo-analyser/internal/repository"
	"github.com/sakif/repo-analyser/internal/selector"
)

// AnalysisOptions bounds one analysis run. Zero values take the defaults.
type AnalysisOptions struct {
	MaxFiles        int
	Extensions      []string
	FileCharLimit   int
	ReadmeLimit     int
	BlobConcurrency int
	BlobTimeout     time.Duration
	LLMTimeout      time.Duration
	RunTimeout      time.Duration

	// Retry policy for rate-limited blob fetches.
	RetryBase     time.Duration
	RetryAttempts int
}

func (o AnalysisOptions) withDefaults() AnalysisOptions {
	if o.MaxFiles <= 0 {
		o.MaxFiles = selector.DefaultMaxFiles
	}
	if o.FileCharLimit <= 0 {
		o.FileCharLimit = prompt.DefaultFileChars
	}
	if o.ReadmeLimit <= 0 {
		o.ReadmeLimit = prompt.DefaultReadmeChars
	}
	if o.BlobConcurrency <= 0 {
		o.BlobConcurrency = 8
	}
	if o.BlobTimeout <= 0 {
		o.BlobTimeout = 10 * time.Second
	}
	if o.LLMTimeout <= 0 {
		o.LLMTimeout = 60 * time.Second
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = 180 * time.Second
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 4
	}
	return o
}

// AnalysisService runs the repository-analysis pipeline and serves the views
// built on its history.
//
// THE RUN STATE MACHINE:
// Every Analyse call walks the same states, logged at debug level as it goes:
//
//	authorising → fetching → prompting → validating → persisting
//
// authorising checks ownership and that the caller still has a source-host
// token. fetching pulls README, tree, files and manifest under one run budget
// (RunTimeout). prompting calls the model under its own shorter budget.
// validating hands the raw text to analysis.Normalise. persisting writes the
// completed row. A state can only move forward; any error ends the run.
//
// FAILED-ROW POLICY:
// A row is written only when the run reaches a verdict about the repository
// itself. That means a completed report, or a failure whose kind describes
// the content: insufficient_content, malformed_response or schema_violation.
// Those failed rows keep the truncated raw model output so a bad answer can be
// inspected later. Transient failures like timeouts or upstream errors write
// nothing, and retrying never leaves a trail of noise in the history. See fail
// and abort.
type AnalysisService struct {
	repos    repository.RepoRepository
	analyses repository.AnalysisRepository
	host     SourceHost
	llm      llm.Client
	opts     AnalysisOptions
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewAnalysisService(
	repos repository.RepoRepository,
	analyses repository.AnalysisRepository,
	host SourceHost,
	client llm.Client,
	opts AnalysisOptions,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AnalysisService {
	return &AnalysisService{
		repos:    repos,
		analyses: analyses,
		host:     host,
		llm:      client,
		opts:     opts.withDefaults(),
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Analyse reviews the repository on behalf of caller and returns the stored row.
func (s *AnalysisService) Analyse(ctx context.Context, repositoryID string, caller auth.CallerContext) (*model.Analysis, error) {
	run := &analysisRun{
		svc:    s,
		caller: caller,
		start:  time.Now(),
		logger: s.logger.With(
			slog.String("run_id", xid.New().String()),
			slog.String("repository_id", repositoryID),
			slog.String("user_id", caller.UserID),
		),
	}

	a, err := run.execute(ctx, repositoryID)

	outcome := string(model.AnalysisCompleted)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		outcome = "cancelled"
	default:
		outcome = apperror.Kind(err)
	}
	s.metrics.RecordAnalysis(outcome, time.Since(run.start))

	if err != nil {
		run.logger.Warn("analysis failed", slog.String("kind", outcome), slog.String("error", err.Error()))
		return nil, err
	}
	run.logger.Info("analysis completed",
		slog.String("analysis_id", a.ID),
		slog.Int("overall_score", a.OverallScore),
		slog.Int64("duration_ms", a.DurationMS),
	)
	return a, nil
}

// analysisRun carries the state of one Analyse call.
type analysisRun struct {
	svc    *AnalysisService
	caller auth.CallerContext
	repo   *model.Repository
	start  time.Time
	logger *slog.Logger
}

func (r *analysisRun) state(name string) {
	r.logger.Debug("analysis state", slog.String("state", name))
}

func (r *analysisRun) execute(ctx context.Context, repositoryID string) (*model.Analysis, error) {
	s := r.svc

	r.state("authorising")
	repo, err := ownedRepository(ctx, s.repos, repositoryID, r.caller)
	if err != nil {
		return nil, err
	}
	if r.caller.OAuthToken == "" {
		return nil, apperror.Unauthorized("no source-host token for caller, sign in again")
	}
	r.repo = repo

	runCtx, cancel := context.WithTimeout(ctx, s.opts.RunTimeout)
	defer cancel()

	r.state("fetching")
	rc, err := r.fetch(runCtx)
	if err != nil {
		return nil, r.abort(ctx, runCtx, err)
	}

	if rc.Empty() {
		err := apperror.InsufficientContent("repository has no README, manifest or source files to analyse")
		return nil, r.fail(ctx, runCtx, err, "")
	}

	r.state("prompting")
	llmCtx, cancelLLM := context.WithTimeout(runCtx, s.opts.LLMTimeout)
	resp, err := s.llm.Complete(llmCtx, llm.Request{
		Operation:    llm.OpRepositoryAnalysis,
		SystemPrompt: prompt.AnalysisSystem,
		UserPrompt:   prompt.Repository(rc, prompt.Limits{ReadmeChars: s.opts.ReadmeLimit, FileChars: s.opts.FileCharLimit}),
		MaxTokens:    llm.AnalysisMaxTokens,
		Temperature:  llm.MaxAnalysisTemperature,
		JSONMode:     true,
	})
	cancelLLM()
	if err != nil {
		if errors.Is(err, apperror.ErrMalformedResponse) {
			return nil, r.fail(ctx, runCtx, err, resp.Content)
		}
		return nil, r.abort(ctx, runCtx, err)
	}

	r.state("validating")
	report, err := analysis.Normalise([]byte(resp.Content))
	if err != nil {
		return nil, r.fail(ctx, runCtx, err, resp.Content)
	}

	r.state("persisting")
	a := &model.Analysis{
		RepositoryID:   repo.ID,
		UserID:         r.caller.UserID,
		OverallScore:   report.OverallScore,
		QualityScore:   report.Quality.Score,
		SecurityScore:  report.Security.Score,
		StructureScore: report.Structure.Score,
		Status:         model.AnalysisCompleted,
		Report:         report,
		DurationMS:     time.Since(r.start).Milliseconds(),
	}
	if err := s.analyses.InsertAnalysis(runCtx, a); err != nil {
		return nil, r.abort(ctx, runCtx, fmt.Errorf("persisting analysis: %w", err))
	}
	return a, nil
}

// abort classifies an error that ends the run without writing a row. The
// caller's own cancellation wins over the run budget, which wins over err.
func (r *analysisRun) abort(ctx, runCtx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("analysis aborted: %w", ctxErr)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return apperror.Timeout(fmt.Sprintf("analysis exceeded %s", r.svc.opts.RunTimeout))
	}
	return err
}

// fail records a failed row for a content or model-output verdict and
// returns cause. A run that has been cancelled or timed out writes nothing.
// If the row cannot be written the store error is returned instead of cause.
func (r *analysisRun) fail(ctx, runCtx context.Context, cause error, raw string) error {
	if ctx.Err() != nil || runCtx.Err() != nil {
		return r.abort(ctx, runCtx, cause)
	}
	a := &model.Analysis{
		RepositoryID: r.repo.ID,
		UserID:       r.caller.UserID,
		Status:       model.AnalysisFailed,
		ErrorKind:    apperror.Kind(cause),
		RawResponse:  analysis.Truncate(raw),
		DurationMS:   time.Since(r.start).Milliseconds(),
	}
	if err := r.svc.analyses.InsertAnalysis(runCtx, a); err != nil {
		// The verdict kinds promise a stored row; without one the caller
		// gets the store error instead.
		return fmt.Errorf("recording failed analysis (%s): %w", apperror.Kind(cause), err)
	}
	return cause
}

// fetch gathers README, tree, selected files and manifest. README and manifest
// are optional; everything else that fails ends the run.
func (r *analysisRun) fetch(ctx context.Context) (prompt.RepoContext, error) {
	s, repo, token := r.svc, r.repo, r.caller.OAuthToken
	owner, name := repo.Owner(), repo.RepoName()
	rc := prompt.RepoContext{FullName: repo.FullName}

	readme, err := s.host.GetReadme(ctx, token, owner, name)
	switch {
	case err == nil:
		rc.Readme = prompt.Redact(prompt.CleanBlob(readme))
	case errors.Is(err, apperror.ErrNotFound), errors.Is(err, apperror.ErrDecode):
		r.logger.Debug("no usable README", slog.String("error", err.Error()))
	default:
		return rc, fmt.Errorf("fetching README: %w", err)
	}

	tree, err := s.host.GetTree(ctx, token, owner, name)
	if err != nil {
		return rc, fmt.Errorf("fetching tree: %w", err)
	}
	paths := selector.Select(tree, selector.Options{MaxFiles: s.opts.MaxFiles, Extensions: s.opts.Extensions})
	r.logger.Debug("selected files", slog.Int("tree_entries", len(tree)), slog.Int("selected", len(paths)))

	files, err := r.fetchFiles(ctx, owner, name, paths)
	if err != nil {
		return rc, err
	}
	rc.Files = files

	m, err := s.host.GetManifest(ctx, token, owner, name)
	switch {
	case err == nil:
		rc.Manifest = m
	case errors.Is(err, apperror.ErrNotFound), errors.Is(err, apperror.ErrDecode):
		r.logger.Debug("no usable manifest", slog.String("error", err.Error()))
	default:
		return rc, fmt.Errorf("fetching manifest: %w", err)
	}
	return rc, nil
}

// fetchFiles downloads the selected paths with bounded parallelism. A file
// that cannot be fetched is dropped; results keep the selector's order no
// matter which download finishes first.
//
// BOUNDED FETCH:
// errgroup.SetLimit caps how many blob requests are in flight at once
// (BlobConcurrency), so a repository with many candidate files cannot flood
// the source host. Each goroutine writes only to its own slot in slots, which
// is why no mutex is needed and why the output order is stable. A single bad
// file is logged and skipped. Only cancellation of the run itself stops the
// whole group.
func (r *analysisRun) fetchFiles(ctx context.Context, owner, name string, paths []string) ([]prompt.File, error) {
	s := r.svc
	slots := make([]*prompt.File, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.BlobConcurrency)
	for i, p := range paths {
		g.Go(func() error {
			content, err := r.fetchBlob(gctx, owner, name, p)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.metrics.RecordBlob(apperror.Kind(err))
				r.logger.Debug("dropping file", slog.String("path", p), slog.String("error", err.Error()))
				return nil
			}
			s.metrics.RecordBlob("ok")
			slots[i] = &prompt.File{Path: p, Content: prompt.Redact(prompt.CleanBlob(content))}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	files := make([]prompt.File, 0, len(slots))
	for _, f := range slots {
		if f != nil {
			files = append(files, *f)
		}
	}
	return files, nil
}

// fetchBlob gets one file under its own timeout, retrying only when the
// source host rate-limits us.
//
// WHY BACKOFF ONLY ON RATE LIMITS?
// A rate-limited request will succeed if we wait, so it is retried with
// exponential backoff starting at RetryBase, RetryAttempts tries in total. A
// 404 or a per-blob timeout will most likely fail the same way again, so
// backoff.Permanent stops the loop at once. backoff.WithContext ties the
// waits to ctx: cancelling the run also cancels a pending retry.
func (r *analysisRun) fetchBlob(ctx context.Context, owner, name, path string) (string, error) {
	s := r.svc
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.RetryAttempts-1)), ctx)

	var content string
	err := backoff.Retry(func() error {
		blobCtx, cancel := context.WithTimeout(ctx, s.opts.BlobTimeout)
		defer cancel()
		c, err := s.host.GetBlob(blobCtx, r.caller.OAuthToken, owner, name, path)
		if err != nil {
			if errors.Is(err, apperror.ErrRateLimited) {
				return err
			}
			return backoff.Permanent(err)
		}
		content = c
		return nil
	}, policy)
	return content, err
}

// History lists every analysis of the repository, newest first.
func (s *AnalysisService) History(ctx context.Context, repositoryID string, caller auth.CallerContext) ([]model.Analysis, error) {
	repo, err := ownedRepository(ctx, s.repos, repositoryID, caller)
	if err != nil {
		return nil, err
	}
	list, err := s.analyses.ListByRepository(ctx, repo.ID)
	if err != nil {
		return nil, fmt.Errorf("listing analyses of %s: %w", repo.ID, err)
	}
	return list, nil
}

// Compare contrasts the two most recent completed analyses. Current is nil
// when the repository has never been analysed successfully.
func (s *AnalysisService) Compare(ctx context.Context, repositoryID string, caller auth.CallerContext) (*model.Comparison, error) {
	list, err := s.History(ctx, repositoryID, caller)
	if err != nil {
		return nil, err
	}

	completed := make([]model.Analysis, 0, len(list))
	for _, a := range list {
		if a.Status == model.AnalysisCompleted {
			completed = append(completed, a)
		}
	}

	cmp := &model.Comparison{History: completed, Trend: "stable"}
	if len(completed) == 0 {
		return cmp, nil
	}
	cmp.Current = &completed[0]
	if len(completed) > 1 {
		prev := completed[1]
		cmp.Previous = &prev
		cmp.Improvements = model.ScoreDelta{
			Quality:   cmp.Current.QualityScore - prev.QualityScore,
			Security:  cmp.Current.SecurityScore - prev.SecurityScore,
			Structure: cmp.Current.StructureScore - prev.StructureScore,
			Overall:   cmp.Current.OverallScore - prev.OverallScore,
		}
		switch {
		case cmp.Improvements.Overall > 2:
			cmp.Trend = "improving"
		case cmp.Improvements.Overall < -2:
			cmp.Trend = "declining"
		}
	}
	return cmp, nil
}

// LatestScore returns the overall score of the newest completed analysis, or
// nil when there is none. It is public: the badge has no caller.
func (s *AnalysisService) LatestScore(ctx context.Context, repositoryID string) (*int, error) {
	a, err := s.analyses.LatestCompleted(ctx, repositoryID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest analysis of %s: %w", repositoryID, err)
	}
	score := a.OverallScore
	return &score, nil
}
