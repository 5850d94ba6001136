package model

import (
	"encoding/json"
	"time"
)

type WebhookStatus string

const (
	WebhookCompleted WebhookStatus = "completed"
	WebhookIgnored   WebhookStatus = "ignored"
	WebhookFailed    WebhookStatus = "failed"
)

// WebhookLog records one inbound source-host event for a known repository.
// Rows are append-only.
type WebhookLog struct {
	ID           string          `json:"id"            db:"id"`
	RepositoryID string          `json:"repository_id" db:"repository_id"`
	EventType    string          `json:"event_type"    db:"event_type"`
	Payload      json.RawMessage `json:"payload"       db:"payload"`
	TriggeredBy  string          `json:"triggered_by"  db:"triggered_by"`
	Status       WebhookStatus   `json:"status"        db:"status"`
	Reason       string          `json:"reason"        db:"reason"`
	CreatedAt    time.Time       `json:"created_at"    db:"created_at"`
}
