package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/service"
)

// maxWebhookBody is the largest delivery accepted from the source host.
const maxWebhookBody = 5 << 20

// WebhookReceiver is implemented by *service.WebhookService.
type WebhookReceiver interface {
	Receive(ctx context.Context, d service.Delivery) (*service.WebhookResult, error)
}

type WebhookHandler struct {
	receiver WebhookReceiver
	logger   *slog.Logger
}

func NewWebhookHandler(receiver WebhookReceiver, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{receiver: receiver, logger: logger}
}

// HandleReceive serves POST /webhooks/source-host. Every verified delivery
// gets 200 with a message, including ones that are ignored, so the source
// host does not retry them.
func (h *WebhookHandler) HandleReceive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeBareError(w, r, h.logger, apperror.ValidationFailed("body", "payload too large"))
			return
		}
		writeBareError(w, r, h.logger, apperror.ValidationFailed("body", "cannot read payload"))
		return
	}

	sig := r.Header.Get("X-Signature-256")
	if sig == "" {
		sig = r.Header.Get("X-Hub-Signature-256")
	}

	res, err := h.receiver.Receive(r.Context(), service.Delivery{
		Event:     r.Header.Get("X-GitHub-Event"),
		Signature: sig,
		Body:      body,
	})
	if err != nil {
		writeBareError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: res.Message})
}
