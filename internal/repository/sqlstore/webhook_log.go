package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/repo-analyser/internal/model"
	"github.com/sakif/repo-analyser/internal/repository"
)

var _ repository.WebhookLogRepository = (*DB)(nil)

// webhookLogRow scans payload as a string: sqlite returns TEXT as string, which
// database/sql will not convert into json.RawMessage.
type webhookLogRow struct {
	ID           string    `db:"id"`
	RepositoryID string    `db:"repository_id"`
	EventType    string    `db:"event_type"`
	Payload      string    `db:"payload"`
	TriggeredBy  string    `db:"triggered_by"`
	Status       string    `db:"status"`
	Reason       string    `db:"reason"`
	CreatedAt    time.Time `db:"created_at"`
}

func (db *DB) InsertWebhookLog(ctx context.Context, l *model.WebhookLog) error {
	if l.ID == "" {
		l.ID = xid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = db.now()
	}
	l.CreatedAt = l.CreatedAt.UTC()

	payload := string(l.Payload)
	if payload == "" || !json.Valid(l.Payload) {
		// The column holds JSON on both dialects; an undecodable body is kept
		// as a JSON string so the log row is still written.
		b, _ := json.Marshal(payload)
		payload = string(b)
	}

	_, err := db.conn.ExecContext(ctx, db.q(`
		INSERT INTO webhook_logs (id, repository_id, event_type, payload, triggered_by, status, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		l.ID, l.RepositoryID, l.EventType, payload, l.TriggeredBy, string(l.Status), l.Reason, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: inserting webhook log for repository %s: %w", l.RepositoryID, err)
	}
	return nil
}

// ListWebhookLogs returns the repository's webhook deliveries, newest first.
func (db *DB) ListWebhookLogs(ctx context.Context, repositoryID string, opts repository.ListOptions) ([]model.WebhookLog, error) {
	query := `SELECT id, repository_id, event_type, payload, triggered_by, status, reason, created_at
		FROM webhook_logs WHERE repository_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{repositoryID}
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	var rows []webhookLogRow
	if err := db.conn.SelectContext(ctx, &rows, db.q(query), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: listing webhook logs of %s: %w", repositoryID, err)
	}
	logs := make([]model.WebhookLog, 0, len(rows))
	for _, r := range rows {
		logs = append(logs, model.WebhookLog{
			ID:           r.ID,
			RepositoryID: r.RepositoryID,
			EventType:    r.EventType,
			Payload:      json.RawMessage(r.Payload),
			TriggeredBy:  r.TriggeredBy,
			Status:       model.WebhookStatus(r.Status),
			Reason:       r.Reason,
			CreatedAt:    r.CreatedAt,
		})
	}
	return logs, nil
}
