package model

import "time"

// AnalysisStatus is the lifecycle status stored on an analysis row.
//
// Rows are written once, at the end of a run, so in practice only completed and
// failed are ever persisted. Pending is kept in the enum for readers that model
// an in-flight state.
type AnalysisStatus string

const (
	AnalysisPending   AnalysisStatus = "pending"
	AnalysisCompleted AnalysisStatus = "completed"
	AnalysisFailed    AnalysisStatus = "failed"
)

// Analysis is one immutable scored report of a repository at a point in time.
//
// Every score is in [0,100]. Failed rows carry zero scores, an ErrorKind and, for
// model output problems, a bounded RawResponse snippet; their Report is nil.
type Analysis struct {
	ID             string         `json:"id"`
	RepositoryID   string         `json:"repository_id"`
	UserID         string         `json:"user_id"`
	OverallScore   int            `json:"overall_score"`
	QualityScore   int            `json:"quality_score"`
	SecurityScore  int            `json:"security_score"`
	StructureScore int            `json:"structure_score"`
	Status         AnalysisStatus `json:"status"`
	ErrorKind      string         `json:"error_kind,omitempty"`
	RawResponse    string         `json:"raw_response,omitempty"`
	Report         *Report        `json:"analysis_data,omitempty"`
	DurationMS     int64          `json:"duration_ms"`
	CreatedAt      time.Time      `json:"created_at"`

	// Repository is populated by listings that join the owning repository.
	Repository *RepositoryRef `json:"repository,omitempty"`
}

// RepositoryRef is the slice of a repository shown next to an analysis.
type RepositoryRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Language    string `json:"language"`
}

// Tier buckets an overall score for badges and summaries.
func Tier(score int) string {
	switch {
	case score >= 90:
		return "Excellent"
	case score >= 70:
		return "Good"
	case score >= 50:
		return "Fair"
	default:
		return "Needs Work"
	}
}
