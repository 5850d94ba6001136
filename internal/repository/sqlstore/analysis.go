package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/model"
	"github.com/sakif/repo-analyser/internal/repository"
)

var _ repository.AnalysisRepository = (*DB)(nil)

// analysisRow mirrors repository_analyses. analysis_data is TEXT on sqlite and
// JSONB on postgres; both scan into a NullString.
type analysisRow struct {
	ID             string         `db:"id"`
	RepositoryID   string         `db:"repository_id"`
	UserID         string         `db:"user_id"`
	OverallScore   int            `db:"overall_score"`
	QualityScore   int            `db:"quality_score"`
	SecurityScore  int            `db:"security_score"`
	StructureScore int            `db:"structure_score"`
	Status         string         `db:"status"`
	ErrorKind      string         `db:"error_kind"`
	RawResponse    string         `db:"raw_response"`
	AnalysisData   sql.NullString `db:"analysis_data"`
	DurationMS     int64          `db:"duration_ms"`
	CreatedAt      time.Time      `db:"created_at"`

	RepoName        sql.NullString `db:"repo_name"`
	RepoFullName    sql.NullString `db:"repo_full_name"`
	RepoDescription sql.NullString `db:"repo_description"`
	RepoLanguage    sql.NullString `db:"repo_language"`
}

func (r analysisRow) toModel() (model.Analysis, error) {
	a := model.Analysis{
		ID:             r.ID,
		RepositoryID:   r.RepositoryID,
		UserID:         r.UserID,
		OverallScore:   r.OverallScore,
		QualityScore:   r.QualityScore,
		SecurityScore:  r.SecurityScore,
		StructureScore: r.StructureScore,
		Status:         model.AnalysisStatus(r.Status),
		ErrorKind:      r.ErrorKind,
		RawResponse:    r.RawResponse,
		DurationMS:     r.DurationMS,
		CreatedAt:      r.CreatedAt,
	}
	if r.AnalysisData.Valid && r.AnalysisData.String != "" {
		var report model.Report
		if err := json.Unmarshal([]byte(r.AnalysisData.String), &report); err != nil {
			return a, fmt.Errorf("sqlstore: decoding analysis_data of %s: %w", r.ID, err)
		}
		a.Report = &report
	}
	if r.RepoFullName.Valid {
		a.Repository = &model.RepositoryRef{
			ID:          r.RepositoryID,
			Name:        r.RepoName.String,
			FullName:    r.RepoFullName.String,
			Description: r.RepoDescription.String,
			Language:    r.RepoLanguage.String,
		}
	}
	return a, nil
}

const analysisSelect = `SELECT a.id, a.repository_id, a.user_id, a.overall_score, a.quality_score,
	a.security_score, a.structure_score, a.status, a.error_kind, a.raw_response, a.analysis_data,
	a.duration_ms, a.created_at,
	r.name AS repo_name, r.full_name AS repo_full_name, r.description AS repo_description, r.language AS repo_language
	FROM repository_analyses a
	LEFT JOIN repositories r ON r.id = a.repository_id`

// InsertAnalysis writes a new, final analysis row. ID and CreatedAt are
// assigned here when empty. There is no update path.
func (db *DB) InsertAnalysis(ctx context.Context, a *model.Analysis) error {
	if a.ID == "" {
		a.ID = xid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = db.now()
	}
	a.CreatedAt = a.CreatedAt.UTC()

	var data sql.NullString
	if a.Report != nil {
		b, err := json.Marshal(a.Report)
		if err != nil {
			return fmt.Errorf("sqlstore: encoding analysis %s: %w", a.ID, err)
		}
		data = sql.NullString{String: string(b), Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, db.q(`
		INSERT INTO repository_analyses (id, repository_id, user_id, overall_score, quality_score,
			security_score, structure_score, status, error_kind, raw_response, analysis_data, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.RepositoryID, a.UserID, a.OverallScore, a.QualityScore,
		a.SecurityScore, a.StructureScore, string(a.Status), a.ErrorKind, a.RawResponse, data, a.DurationMS, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: inserting analysis for repository %s: %w", a.RepositoryID, err)
	}
	return nil
}

// ListByRepository returns every analysis of the repository, newest first.
func (db *DB) ListByRepository(ctx context.Context, repositoryID string) ([]model.Analysis, error) {
	return db.selectAnalyses(ctx,
		analysisSelect+` WHERE a.repository_id = ? ORDER BY a.created_at DESC, a.id DESC`, repositoryID)
}

// ListByUser returns the user's analyses across all repositories, newest first.
// A zero Limit means no limit.
func (db *DB) ListByUser(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Analysis, error) {
	query := analysisSelect + ` WHERE a.user_id = ? ORDER BY a.created_at DESC, a.id DESC`
	args := []any{userID}
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}
	return db.selectAnalyses(ctx, query, args...)
}

// LatestCompleted returns the newest completed analysis of the repository, or
// apperror.ErrNotFound when there is none.
func (db *DB) LatestCompleted(ctx context.Context, repositoryID string) (*model.Analysis, error) {
	var row analysisRow
	err := db.conn.GetContext(ctx, &row, db.q(analysisSelect+`
		WHERE a.repository_id = ? AND a.status = ?
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT 1`), repositoryID, string(model.AnalysisCompleted))
	if isNoRows(err) {
		return nil, apperror.NotFound("analysis", repositoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: latest analysis of %s: %w", repositoryID, err)
	}
	a, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

type statsRow struct {
	Total        int64 `db:"total"`
	ThisWeek     int64 `db:"this_week"`
	Repositories int64 `db:"repositories"`
	TotalMS      int64 `db:"total_ms"`
	Timed        int64 `db:"timed"`
}

// UserStats computes the history summary in one aggregate query. Rows without
// a recorded duration are left out of the average, which is in seconds and
// unrounded.
func (db *DB) UserStats(ctx context.Context, userID string, since time.Time) (model.AnalysisStats, error) {
	var row statsRow
	err := db.conn.GetContext(ctx, &row, db.q(`
		SELECT COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0) AS this_week,
			COUNT(DISTINCT repository_id) AS repositories,
			COALESCE(SUM(CASE WHEN duration_ms > 0 THEN duration_ms ELSE 0 END), 0) AS total_ms,
			COALESCE(SUM(CASE WHEN duration_ms > 0 THEN 1 ELSE 0 END), 0) AS timed
		FROM repository_analyses
		WHERE user_id = ?`), since.UTC(), userID)
	if err != nil {
		return model.AnalysisStats{}, fmt.Errorf("sqlstore: analysis stats of user %s: %w", userID, err)
	}
	st := model.AnalysisStats{
		Total:        int(row.Total),
		ThisWeek:     int(row.ThisWeek),
		Repositories: int(row.Repositories),
	}
	if row.Timed > 0 {
		st.AvgDurationSeconds = float64(row.TotalMS) / float64(row.Timed) / 1000
	}
	return st, nil
}

func (db *DB) selectAnalyses(ctx context.Context, query string, args ...any) ([]model.Analysis, error) {
	var rows []analysisRow
	if err := db.conn.SelectContext(ctx, &rows, db.q(query), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: listing analyses: %w", err)
	}
	out := make([]model.Analysis, 0, len(rows))
	for _, r := range rows {
		a, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
