package model

// Snippet is a piece of code submitted for a free-form review.
// The `json:"..."` tags map request bodies straight onto the struct.
type Snippet struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Focus    string `json:"focus"` // security | quality | performance | general
}

// Snippet review focus areas.
const (
	FocusGeneral     = "general"
	FocusSecurity    = "security"
	FocusQuality     = "quality"
	FocusPerformance = "performance"
)

// SnippetReview is the model's free-text answer for a Snippet.
type SnippetReview struct {
	Language string `json:"language"`
	Focus    string `json:"focus"`
	Analysis string `json:"analysis"`
}
