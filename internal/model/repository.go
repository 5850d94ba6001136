package model

import (
	"strings"
	"time"
)

// Webhook event names a repository can subscribe to.
const (
	EventPush        = "push"
	EventPullRequest = "pull_request"
)

// DefaultWebhookEvents is the event set a repository starts with.
var DefaultWebhookEvents = []string{EventPush, EventPullRequest}

// Repository is a source-host repository owned by exactly one user.
//
// (UserID, ExternalID) is unique. Mutable descriptor fields are refreshed on
// every sync; the webhook configuration is owned by the user and survives sync.
type Repository struct {
	ID             string       `json:"id"              db:"id"`
	UserID         string       `json:"user_id"         db:"user_id"`
	ExternalID     int64        `json:"external_id"     db:"external_id"`
	Name           string       `json:"name"            db:"name"`
	FullName       string       `json:"full_name"       db:"full_name"`
	Description    string       `json:"description"     db:"description"`
	Language       string       `json:"language"        db:"language"`
	Stars          int          `json:"stars"           db:"stars"`
	Forks          int          `json:"forks"           db:"forks"`
	Private        bool         `json:"private"         db:"private"`
	HTMLURL        string       `json:"html_url"        db:"html_url"`
	WebhookEnabled bool         `json:"webhook_enabled" db:"webhook_enabled"`
	WebhookEvents  EventSet     `json:"webhook_events"  db:"webhook_events"`
	PushedAt       *time.Time   `json:"pushed_at"       db:"pushed_at"`
	CreatedAt      time.Time    `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"      db:"updated_at"`
	LastAnalysis   *LastSummary `json:"last_analysis,omitempty" db:"-"`
}

// Owner returns the owner half of FullName ("owner/name").
func (r *Repository) Owner() string {
	owner, _, _ := strings.Cut(r.FullName, "/")
	return owner
}

// RepoName returns the name half of FullName, falling back to Name.
func (r *Repository) RepoName() string {
	if _, name, ok := strings.Cut(r.FullName, "/"); ok && name != "" {
		return name
	}
	return r.Name
}

// Subscribes reports whether the repository's webhook config includes event.
func (r *Repository) Subscribes(event string) bool {
	for _, e := range r.WebhookEvents {
		if e == event {
			return true
		}
	}
	return false
}

// LastSummary is the most recent analysis attached to a repository listing.
type LastSummary struct {
	AnalysisID   string         `json:"analysis_id"`
	Status       AnalysisStatus `json:"status"`
	OverallScore int            `json:"overall_score"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ValidEvent reports whether name is a webhook event a repository may subscribe to.
func ValidEvent(name string) bool {
	return name == EventPush || name == EventPullRequest
}
