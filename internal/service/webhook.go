package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/metrics"
	"github.com/sakif/repo-analyser/internal/model"
	"github.com/sakif/repo-analyser/internal/queue"
	"github.com/sakif/repo-analyser/internal/repository"
)

// Delivery is one inbound webhook request, unparsed.
type Delivery struct {
	Event     string // X-GitHub-Event
	Signature string // "sha256=<hex>"
	Body      []byte
}

// WebhookResult is what the receiver decided. Message is safe to return to
// the source host.
type WebhookResult struct {
	Status  model.WebhookStatus
	Message string
}

// WebhookService turns source-host events into queued analysis tasks.
type WebhookService struct {
	repos   repository.RepoRepository
	logs    repository.WebhookLogRepository
	queue   queue.Queue
	secret  []byte
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewWebhookService(
	repos repository.RepoRepository,
	logs repository.WebhookLogRepository,
	q queue.Queue,
	secret string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *WebhookService {
	if secret == "" {
		logger.Warn("webhook secret is not set, signatures will not be checked")
	}
	return &WebhookService{repos: repos, logs: logs, queue: q, secret: []byte(secret), metrics: m, logger: logger}
}

// Verify checks the HMAC-SHA256 signature of body. With no secret configured
// every delivery passes.
func (s *WebhookService) Verify(signature string, body []byte) error {
	if len(s.secret) == 0 {
		return nil
	}
	hexSig, ok := strings.CutPrefix(strings.TrimSpace(signature), "sha256=")
	if !ok {
		return apperror.Unauthorized("missing or malformed signature")
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return apperror.Unauthorized("missing or malformed signature")
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return apperror.Unauthorized("signature mismatch")
	}
	return nil
}

// Receive verifies, filters, logs and possibly enqueues one delivery.
//
// A bad signature is Unauthorized and an unparseable body is a validation
// error; neither touches the store. Every other delivery gets a result. A log
// row is written for every delivery whose repository is known.
func (s *WebhookService) Receive(ctx context.Context, d Delivery) (*WebhookResult, error) {
	if err := s.Verify(d.Signature, d.Body); err != nil {
		s.metrics.RecordWebhook(d.Event, "unauthorized")
		return nil, err
	}
	if !gjson.ValidBytes(d.Body) {
		return nil, apperror.ValidationFailed("body", "payload is not valid JSON")
	}
	payload := gjson.ParseBytes(d.Body)
	if !payload.IsObject() {
		return nil, apperror.ValidationFailed("body", "payload is not a JSON object")
	}

	event := d.Event
	if event == "" {
		event = payload.Get("event").String()
	}

	extID := payload.Get("repository.id").Int()
	if extID == 0 {
		return s.done(event, model.WebhookIgnored, "no repository in payload"), nil
	}
	repo, err := s.repos.GetByExternalID(ctx, extID)
	if errors.Is(err, apperror.ErrNotFound) {
		return s.done(event, model.WebhookIgnored, "repository is not tracked"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving repository %d: %w", extID, err)
	}

	eventType, triggeredBy, accept, reason := classify(event, payload)
	status := model.WebhookIgnored
	switch {
	case !repo.WebhookEnabled:
		reason = "webhook not enabled for this repository"
	case !accept:
	case !repo.Subscribes(event):
		reason = fmt.Sprintf("repository is not subscribed to %s events", event)
	default:
		err := s.queue.Enqueue(ctx, queue.Task{RepositoryID: repo.ID, UserID: repo.UserID, Reason: eventType})
		if err != nil {
			s.logger.Error("queueing webhook analysis", slog.String("repository_id", repo.ID), slog.String("error", err.Error()))
			status, reason = model.WebhookFailed, "failed to queue analysis"
		} else {
			status, reason = model.WebhookCompleted, "analysis queued"
		}
	}

	entry := &model.WebhookLog{
		RepositoryID: repo.ID,
		EventType:    eventType,
		Payload:      d.Body,
		TriggeredBy:  triggeredBy,
		Status:       status,
		Reason:       reason,
	}
	if err := s.logs.InsertWebhookLog(ctx, entry); err != nil {
		s.logger.Error("writing webhook log", slog.String("repository_id", repo.ID), slog.String("error", err.Error()))
	}

	s.logger.Info("webhook received",
		slog.String("event", eventType),
		slog.String("repository_id", repo.ID),
		slog.String("status", string(status)),
		slog.String("reason", reason),
	)
	return s.done(event, status, reason), nil
}

func (s *WebhookService) done(event string, status model.WebhookStatus, message string) *WebhookResult {
	s.metrics.RecordWebhook(event, string(status))
	return &WebhookResult{Status: status, Message: message}
}

// classify applies the per-event filters: pushes count only on main or
// master, pull requests only when opened or synchronized.
func classify(event string, p gjson.Result) (eventType, triggeredBy string, accept bool, reason string) {
	switch event {
	case model.EventPush:
		triggeredBy = p.Get("pusher.name").String()
		if triggeredBy == "" {
			triggeredBy = p.Get("pusher.email").String()
		}
		ref := p.Get("ref").String()
		if strings.HasSuffix(ref, "/main") || strings.HasSuffix(ref, "/master") {
			return event, triggeredBy, true, ""
		}
		return event, triggeredBy, false, "ignored push to non-default branch " + ref
	case model.EventPullRequest:
		action := p.Get("action").String()
		triggeredBy = p.Get("pull_request.user.login").String()
		eventType = event + ":" + action
		if action == "opened" || action == "synchronize" {
			return eventType, triggeredBy, true, ""
		}
		return eventType, triggeredBy, false, "ignored pull request action " + action
	case "":
		return "unknown", "", false, "event type missing"
	default:
		return event, p.Get("sender.login").String(), false, "event type " + event + " is not handled"
	}
}
