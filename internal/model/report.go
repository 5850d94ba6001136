package model

// Report is the canonical, normalised analysis report. It is the exact shape
// persisted in repository_analyses.analysis_data and read back by the badge,
// comparison and analytics views. Only internal/analysis produces it.
type Report struct {
	Quality         QualityReport    `json:"quality"`
	Security        SecurityReport   `json:"security"`
	Structure       StructureReport  `json:"structure"`
	Recommendations []Recommendation `json:"recommendations"`
	OverallScore    int              `json:"overall_score"`
	Summary         string           `json:"summary"`
}

type QualityReport struct {
	Score     int      `json:"score"`
	Summary   string   `json:"summary"`
	Issues    []string `json:"issues"`
	Strengths []string `json:"strengths"`
}

type SecurityReport struct {
	Score           int             `json:"score"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

type Vulnerability struct {
	Severity       string `json:"severity"` // critical | high | medium | low
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

type StructureReport struct {
	Score        int      `json:"score"`
	Organization string   `json:"organization"`
	Improvements []string `json:"improvements"`
}

type Recommendation struct {
	Category       string     `json:"category"`
	Priority       string     `json:"priority"` // high | medium | low
	Description    string     `json:"description"`
	Implementation string     `json:"implementation"`
	Resources      []Resource `json:"resources,omitempty"`
	Example        string     `json:"example,omitempty"`
}

type Resource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Severity and priority values accepted by the normaliser.
var (
	Severities = []string{"critical", "high", "medium", "low"}
	Priorities = []string{"high", "medium", "low"}
)
