package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/repo-analyser/internal/apperror"
)

const validReport = `{
  "quality": {"score": 82, "summary": "Readable", "issues": ["long functions"], "strengths": ["tests"]},
  "security": {"score": 74, "vulnerabilities": [
    {"severity": "HIGH", "description": "SQL built by concatenation", "recommendation": "use placeholders"}
  ]},
  "structure": {"score": 90, "organization": "layered", "improvements": ["split handlers"]},
  "recommendations": [
    {"category": "security", "priority": "high", "description": "parameterise queries",
     "implementation": "use ? placeholders", "resources": [{"title": "OWASP", "url": "https://owasp.org"}]}
  ],
  "overall_score": 81,
  "summary": "Solid codebase."
}`

func TestNormalise_Valid(t *testing.T) {
	r, err := Normalise([]byte(validReport))
	require.NoError(t, err)

	assert.Equal(t, 82, r.Quality.Score)
	assert.Equal(t, 74, r.Security.Score)
	assert.Equal(t, 90, r.Structure.Score)
	assert.Equal(t, 81, r.OverallScore)
	assert.Equal(t, "Solid codebase.", r.Summary)
	require.Len(t, r.Security.Vulnerabilities, 1)
	assert.Equal(t, "high", r.Security.Vulnerabilities[0].Severity)
	require.Len(t, r.Recommendations, 1)
	assert.Equal(t, "OWASP", r.Recommendations[0].Resources[0].Title)
}

func TestNormalise_CodeFence(t *testing.T) {
	r, err := Normalise([]byte("```json\n" + validReport + "\n```"))
	require.NoError(t, err)
	assert.Equal(t, 81, r.OverallScore)
}

func TestNormalise_Malformed(t *testing.T) {
	for _, raw := range []string{"", "I'm sorry, I can't help with that.", `["a"]`, `"text"`, `{"quality":`} {
		t.Run(raw, func(t *testing.T) {
			_, err := Normalise([]byte(raw))
			assert.True(t, errors.Is(err, apperror.ErrMalformedResponse), "got %v", err)
		})
	}
}

func TestNormalise_SchemaViolation(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(m map[string]any)
		field string
	}{
		{"missing quality", func(m map[string]any) { delete(m, "quality") }, "quality"},
		{"missing summary", func(m map[string]any) { delete(m, "summary") }, "summary"},
		{"missing overall", func(m map[string]any) { delete(m, "overall_score") }, "overall_score"},
		{"security not object", func(m map[string]any) { m["security"] = "fine" }, "security"},
		{"recommendations not array", func(m map[string]any) { m["recommendations"] = map[string]any{} }, "recommendations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m map[string]any
			require.NoError(t, json.Unmarshal([]byte(validReport), &m))
			tt.mut(m)
			raw, err := json.Marshal(m)
			require.NoError(t, err)

			_, err = Normalise(raw)
			require.True(t, errors.Is(err, apperror.ErrSchemaViolation), "got %v", err)
			var appErr *apperror.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}

func TestNormalise_SummaryCoercedToText(t *testing.T) {
	for _, v := range []any{nil, 3, []string{"a"}, "  padded  "} {
		t.Run(fmt.Sprint(v), func(t *testing.T) {
			var m map[string]any
			require.NoError(t, json.Unmarshal([]byte(validReport), &m))
			m["summary"] = v
			raw, err := json.Marshal(m)
			require.NoError(t, err)

			report, err := Normalise(raw)
			require.NoError(t, err)
			if s, ok := v.(string); ok {
				assert.Equal(t, strings.TrimSpace(s), report.Summary)
			} else {
				assert.Empty(t, report.Summary)
			}
		})
	}
}

func TestNormalise_Scores(t *testing.T) {
	tests := []struct {
		name                       string
		quality, security, struc   string
		overall                    string
		wantQ, wantS, wantSt, wantO int
	}{
		{"clamped high", "150", "-20", "100", "150", 100, 0, 100, 100},
		{"rounded", "82.5", "74.4", "0", "80.49", 83, 74, 0, 80},
		{"numeric strings", `"88"`, `" 71 "`, `"60.6"`, `"77"`, 88, 71, 61, 77},
		{"non-numeric section takes sibling mean", `"n/a"`, "70", "81", "75", 76, 70, 81, 75},
		{"no valid section falls back to 50", "null", `"x"`, "true", "66", 50, 50, 50, 66},
		{"non-numeric overall is mean", "90", "60", "75", `"great"`, 90, 60, 75, 75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := fmt.Sprintf(`{"quality":{"score":%s},"security":{"score":%s},"structure":{"score":%s},
				"recommendations":[],"overall_score":%s,"summary":""}`, tt.quality, tt.security, tt.struc, tt.overall)
			r, err := Normalise([]byte(raw))
			require.NoError(t, err)
			assert.Equal(t, tt.wantQ, r.Quality.Score, "quality")
			assert.Equal(t, tt.wantS, r.Security.Score, "security")
			assert.Equal(t, tt.wantSt, r.Structure.Score, "structure")
			assert.Equal(t, tt.wantO, r.OverallScore, "overall")
		})
	}
}

func TestNormalise_EnumsAndCaps(t *testing.T) {
	var vulns, recs, issues []string
	for i := 0; i < 60; i++ {
		vulns = append(vulns, fmt.Sprintf(`{"severity":"%s","description":"v%d"}`, []string{"Critical", "urgent", " low "}[i%3], i))
		recs = append(recs, fmt.Sprintf(`{"priority":"%s","description":"r%d","extra":true}`, []string{"HIGH", "asap"}[i%2], i))
		issues = append(issues, fmt.Sprintf(`"issue %d"`, i))
	}
	raw := fmt.Sprintf(`{"quality":{"score":50,"issues":[%s],"strengths":[1,"",{"a":1},"good"]},
		"security":{"score":50,"vulnerabilities":[%s]},
		"structure":{"score":50,"improvements":"not a list"},
		"recommendations":[%s],"overall_score":50,"summary":"s","model":"extra key"}`,
		strings.Join(issues, ","), strings.Join(vulns, ","), strings.Join(recs, ","))

	r, err := Normalise([]byte(raw))
	require.NoError(t, err)

	assert.Len(t, r.Quality.Issues, MaxListItems)
	assert.Equal(t, []string{"good"}, r.Quality.Strengths)
	assert.Empty(t, r.Structure.Improvements)
	assert.NotNil(t, r.Structure.Improvements)

	require.Len(t, r.Security.Vulnerabilities, MaxVulnerabilities)
	assert.Equal(t, "critical", r.Security.Vulnerabilities[0].Severity)
	assert.Equal(t, "medium", r.Security.Vulnerabilities[1].Severity)
	assert.Equal(t, "low", r.Security.Vulnerabilities[2].Severity)

	require.Len(t, r.Recommendations, MaxRecommendations)
	assert.Equal(t, "high", r.Recommendations[0].Priority)
	assert.Equal(t, "medium", r.Recommendations[1].Priority)

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "extra")
	assert.NotContains(t, string(out), `"model"`)
}

func TestNormalise_Idempotent(t *testing.T) {
	inputs := []string{
		validReport,
		`{"quality":{"score":"abc","issues":["  x  "]},"security":{"score":101.7},"structure":{},
		  "recommendations":[{"priority":"??","resources":[{"title":"t"},{}]}],"overall_score":null,"summary":" s "}`,
	}
	for i, in := range inputs {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			first, err := Normalise([]byte(in))
			require.NoError(t, err)
			raw, err := json.Marshal(first)
			require.NoError(t, err)
			second, err := Normalise(raw)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short"))
	long := strings.Repeat("a", MaxRawResponse-1) + "é" + "tail"
	got := Truncate(long)
	assert.LessOrEqual(t, len(got), MaxRawResponse)
	assert.Equal(t, strings.Repeat("a", MaxRawResponse-1), got)
}
