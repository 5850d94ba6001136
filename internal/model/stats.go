package model

// AnalysisStats summarises a user's analysis history.
type AnalysisStats struct {
	Total              int     `json:"total"`
	ThisWeek           int     `json:"this_week"`
	Repositories       int     `json:"repositories"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
}

// ScoreDelta holds per-score differences between two analyses.
type ScoreDelta struct {
	Quality   int `json:"quality"`
	Security  int `json:"security"`
	Structure int `json:"structure"`
	Overall   int `json:"overall"`
}

// Comparison contrasts the latest completed analysis with the one before it.
type Comparison struct {
	Current      *Analysis  `json:"current"`
	Previous     *Analysis  `json:"previous"`
	History      []Analysis `json:"history"`
	Improvements ScoreDelta `json:"improvements"`
	Trend        string     `json:"trend"` // improving | declining | stable
}

// Analytics is the dashboard view over a user's completed analyses.
type Analytics struct {
	Trends          []TrendPoint    `json:"trends"`
	TopRepositories []TopRepository `json:"top_repositories"`
	ActivityHeatmap []ActivityDay   `json:"activity_heatmap"`
	MonthlyMetrics  []MonthlyMetric `json:"monthly_metrics"`
}

type TrendPoint struct {
	Date     string `json:"date"`
	AvgScore int    `json:"avg_score"`
	Analyses int    `json:"analyses"`
}

type TopRepository struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FullName    string `json:"full_name"`
	Language    string `json:"language"`
	LatestScore int    `json:"latest_score"`
	Trend       string `json:"trend"` // up | down | stable
}

type ActivityDay struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
	Level int    `json:"level"`
}

type MonthlyMetric struct {
	Month       string  `json:"month"`
	Analyses    int     `json:"analyses"`
	AvgScore    int     `json:"avg_score"`
	Improvement float64 `json:"improvement"`
}
