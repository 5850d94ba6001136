package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/auth"
	"github.com/sakif/repo-analyser/internal/model"
	"github.com/sakif/repo-analyser/internal/repository"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100

	// analyticsWindow caps how many analyses feed the analytics view.
	analyticsWindow = 1000
)

// UserAnalyses is a page of the caller's analyses plus stats over all of them.
type UserAnalyses struct {
	Analyses []model.Analysis   `json:"analyses"`
	Stats    model.AnalysisStats `json:"stats"`
}

// ListForUser returns the caller's analyses, newest first, joined with their
// repositories. limit is clamped to 1..100.
func (s *AnalysisService) ListForUser(ctx context.Context, caller auth.CallerContext, limit, offset int) (*UserAnalyses, error) {
	if caller.UserID == "" {
		return nil, apperror.Unauthorized("no caller")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	page, err := s.analyses.ListByUser(ctx, caller.UserID, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("listing analyses of user %s: %w", caller.UserID, err)
	}
	if page == nil {
		page = []model.Analysis{}
	}
	st, err := s.analyses.UserStats(ctx, caller.UserID, s.now().AddDate(0, 0, -7))
	if err != nil {
		return nil, fmt.Errorf("summarising analyses of user %s: %w", caller.UserID, err)
	}
	st.AvgDurationSeconds = round1(st.AvgDurationSeconds)
	return &UserAnalyses{Analyses: page, Stats: st}, nil
}

// Analytics summarises the caller's latest completed analyses for the
// dashboard. now anchors every window so results are reproducible.
func (s *AnalysisService) Analytics(ctx context.Context, caller auth.CallerContext, now time.Time) (*model.Analytics, error) {
	if caller.UserID == "" {
		return nil, apperror.Unauthorized("no caller")
	}
	list, err := s.analyses.ListByUser(ctx, caller.UserID, repository.ListOptions{Limit: analyticsWindow})
	if err != nil {
		return nil, fmt.Errorf("listing analyses of user %s: %w", caller.UserID, err)
	}

	completed := make([]model.Analysis, 0, len(list))
	for _, a := range list {
		if a.Status == model.AnalysisCompleted {
			completed = append(completed, a)
		}
	}

	now = now.UTC()
	return &model.Analytics{
		Trends:          trends(completed, now),
		TopRepositories: topRepositories(completed),
		ActivityHeatmap: heatmap(completed, now),
		MonthlyMetrics:  monthly(completed, now),
	}, nil
}

const dayLayout = "2006-01-02"

// trends averages scores per day over the last 30 days and keeps the 14 most
// recent days that had any analysis.
func trends(newestFirst []model.Analysis, now time.Time) []model.TrendPoint {
	since := now.AddDate(0, 0, -30)
	type acc struct{ sum, n int }
	byDay := make(map[string]*acc)
	for _, a := range newestFirst {
		if a.CreatedAt.Before(since) {
			continue
		}
		day := a.CreatedAt.UTC().Format(dayLayout)
		if byDay[day] == nil {
			byDay[day] = &acc{}
		}
		byDay[day].sum += a.OverallScore
		byDay[day].n++
	}

	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)
	if len(days) > 14 {
		days = days[len(days)-14:]
	}

	out := make([]model.TrendPoint, 0, len(days))
	for _, d := range days {
		v := byDay[d]
		out = append(out, model.TrendPoint{Date: d, AvgScore: roundInt(float64(v.sum) / float64(v.n)), Analyses: v.n})
	}
	return out
}

// topRepositories ranks repositories by their latest score; trend compares it
// with the analysis before.
func topRepositories(newestFirst []model.Analysis) []model.TopRepository {
	type entry struct {
		top      model.TopRepository
		previous *int
	}
	byRepo := make(map[string]*entry)
	var order []string
	for _, a := range newestFirst {
		e, ok := byRepo[a.RepositoryID]
		if !ok {
			top := model.TopRepository{ID: a.RepositoryID, LatestScore: a.OverallScore, Trend: "stable"}
			if a.Repository != nil {
				top.Name = a.Repository.Name
				top.FullName = a.Repository.FullName
				top.Language = a.Repository.Language
			}
			byRepo[a.RepositoryID] = &entry{top: top}
			order = append(order, a.RepositoryID)
			continue
		}
		if e.previous == nil {
			score := a.OverallScore
			e.previous = &score
		}
	}

	out := make([]model.TopRepository, 0, len(order))
	for _, id := range order {
		e := byRepo[id]
		if e.previous != nil {
			switch diff := e.top.LatestScore - *e.previous; {
			case diff > 5:
				e.top.Trend = "up"
			case diff < -5:
				e.top.Trend = "down"
			}
		}
		out = append(out, e.top)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LatestScore > out[j].LatestScore })
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// heatmap counts analyses per day for the 90 days up to and including today.
func heatmap(list []model.Analysis, now time.Time) []model.ActivityDay {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	first := today.AddDate(0, 0, -90)

	counts := make(map[string]int)
	for _, a := range list {
		if a.CreatedAt.Before(first) {
			continue
		}
		counts[a.CreatedAt.UTC().Format(dayLayout)]++
	}

	out := make([]model.ActivityDay, 0, 91)
	for d := first; !d.After(today); d = d.AddDate(0, 0, 1) {
		key := d.Format(dayLayout)
		n := counts[key]
		out = append(out, model.ActivityDay{Date: key, Count: n, Level: activityLevel(n)})
	}
	return out
}

func activityLevel(n int) int {
	switch {
	case n >= 7:
		return 4
	case n >= 5:
		return 3
	case n >= 3:
		return 2
	case n >= 1:
		return 1
	default:
		return 0
	}
}

// monthly reports the last six calendar months, oldest first. Improvement is
// the change of the average against the month before (0 for the first).
func monthly(list []model.Analysis, now time.Time) []model.MonthlyMetric {
	type acc struct{ sum, n int }
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	months := make([]time.Time, 6)
	byMonth := make(map[string]*acc, 6)
	for i := range months {
		m := thisMonth.AddDate(0, i-5, 0)
		months[i] = m
		byMonth[m.Format("2006-01")] = &acc{}
	}
	for _, a := range list {
		if v := byMonth[a.CreatedAt.UTC().Format("2006-01")]; v != nil {
			v.sum += a.OverallScore
			v.n++
		}
	}

	out := make([]model.MonthlyMetric, 0, len(months))
	prevAvg := 0.0
	for i, m := range months {
		v := byMonth[m.Format("2006-01")]
		avg := 0.0
		if v.n > 0 {
			avg = float64(v.sum) / float64(v.n)
		}
		metric := model.MonthlyMetric{Month: m.Format("Jan 2006"), Analyses: v.n, AvgScore: roundInt(avg)}
		if i > 0 {
			metric.Improvement = round1(avg - prevAvg)
		}
		out = append(out, metric)
		prevAvg = avg
	}
	return out
}

func roundInt(f float64) int { return int(math.Round(f)) }

func round1(f float64) float64 { return math.Round(f*10) / 10 }
