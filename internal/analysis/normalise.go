// Package analysis turns raw model output into the canonical model.Report.
//
// Model output is untrusted: fields may be missing, mistyped, out of range or
// padded with keys nobody asked for. Normalise is the single gate between the
// model and the store. It rejects what cannot be repaired and repairs the
// rest into a fixed shape, so that Normalise(json(Normalise(x))) == Normalise(x).
package analysis

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/model"
)

// List caps applied to the report.
const (
	MaxVulnerabilities = 50
	MaxRecommendations = 50
	MaxListItems       = 20 // issues, strengths, improvements
)

// MaxRawResponse bounds the raw model output kept on failed rows.
const MaxRawResponse = 2000

// neutralScore is used when no section carries a usable score.
const neutralScore = 50

var requiredKeys = []string{"quality", "security", "structure", "recommendations", "overall_score", "summary"}

// Normalise parses raw model output and returns the canonical report.
//
// Unparseable output, or output whose root is not an object, is a
// MalformedResponse. A missing required key or a section of the wrong type is
// a SchemaViolation. Everything else is repaired.
//
// REPAIR RULES:
//
//	score         number or numeric string, rounded and clamped to 0..100
//	bad score     section: mean of the readable sections, else 50
//	              overall: mean of the three section scores
//	text          trimmed; anything that is not a string becomes ""
//	lists         blank or wrongly typed items dropped, then capped
//	enums         lower-cased; unknown severity or priority becomes "medium"
//	extra keys    ignored
//
// The summary key must be present but, like every other text field, a null
// or non-string value reads as "".
func Normalise(raw []byte) (*model.Report, error) {
	body := stripFence(string(raw))
	if body == "" || !gjson.Valid(body) {
		return nil, apperror.MalformedResponse("model output is not valid JSON")
	}
	root := gjson.Parse(body)
	if !root.IsObject() {
		return nil, apperror.MalformedResponse("model output is not a JSON object")
	}

	for _, key := range requiredKeys {
		if !root.Get(key).Exists() {
			return nil, apperror.SchemaViolation(key, fmt.Sprintf("%s is required", key))
		}
	}
	for _, key := range []string{"quality", "security", "structure"} {
		if !root.Get(key).IsObject() {
			return nil, apperror.SchemaViolation(key, fmt.Sprintf("%s must be an object", key))
		}
	}
	if !root.Get("recommendations").IsArray() {
		return nil, apperror.SchemaViolation("recommendations", "recommendations must be an array")
	}
	q, s, st := root.Get("quality"), root.Get("security"), root.Get("structure")

	// Section scores that cannot be read take the mean of the ones that can.
	var scores [3]int
	var valid [3]bool
	for i, section := range []gjson.Result{q, s, st} {
		scores[i], valid[i] = score(section.Get("score"))
	}
	fallback := meanOf(scores, valid)
	for i := range scores {
		if !valid[i] {
			scores[i] = fallback
		}
	}

	overall, ok := score(root.Get("overall_score"))
	if !ok {
		overall = roundClamp(float64(scores[0]+scores[1]+scores[2]) / 3)
	}

	report := &model.Report{
		Quality: model.QualityReport{
			Score:     scores[0],
			Summary:   text(q.Get("summary")),
			Issues:    stringList(q.Get("issues"), MaxListItems),
			Strengths: stringList(q.Get("strengths"), MaxListItems),
		},
		Security: model.SecurityReport{
			Score:           scores[1],
			Vulnerabilities: vulnerabilities(s.Get("vulnerabilities")),
		},
		Structure: model.StructureReport{
			Score:        scores[2],
			Organization: text(st.Get("organization")),
			Improvements: stringList(st.Get("improvements"), MaxListItems),
		},
		Recommendations: recommendations(root.Get("recommendations")),
		OverallScore:    overall,
		Summary:         text(root.Get("summary")),
	}
	return report, nil
}

// stripFence removes a surrounding Markdown code fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// score coerces a JSON value to an integer in [0,100]. Numbers are rounded,
// numeric strings parsed. ok is false for anything else.
func score(r gjson.Result) (int, bool) {
	var f float64
	switch r.Type {
	case gjson.Number:
		f = r.Num
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, false
		}
		f = v
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return roundClamp(f), true
}

func roundClamp(f float64) int {
	v := math.Round(f)
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}

func meanOf(scores [3]int, valid [3]bool) int {
	sum, n := 0, 0
	for i, s := range scores {
		if valid[i] {
			sum += s
			n++
		}
	}
	if n == 0 {
		return neutralScore
	}
	return roundClamp(float64(sum) / float64(n))
}

// text returns a trimmed string field; non-strings become "".
func text(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(r.Str)
}

// stringList keeps the non-empty string items of an array, up to max.
func stringList(r gjson.Result, max int) []string {
	out := []string{}
	if !r.IsArray() {
		return out
	}
	for _, item := range r.Array() {
		if len(out) == max {
			break
		}
		if s := text(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func vulnerabilities(r gjson.Result) []model.Vulnerability {
	out := []model.Vulnerability{}
	if !r.IsArray() {
		return out
	}
	for _, item := range r.Array() {
		if len(out) == MaxVulnerabilities {
			break
		}
		if !item.IsObject() {
			continue
		}
		out = append(out, model.Vulnerability{
			Severity:       enum(item.Get("severity"), model.Severities),
			Description:    text(item.Get("description")),
			Recommendation: text(item.Get("recommendation")),
		})
	}
	return out
}

func recommendations(r gjson.Result) []model.Recommendation {
	out := []model.Recommendation{}
	for _, item := range r.Array() {
		if len(out) == MaxRecommendations {
			break
		}
		if !item.IsObject() {
			continue
		}
		out = append(out, model.Recommendation{
			Category:       text(item.Get("category")),
			Priority:       enum(item.Get("priority"), model.Priorities),
			Description:    text(item.Get("description")),
			Implementation: text(item.Get("implementation")),
			Resources:      resources(item.Get("resources")),
			Example:        text(item.Get("example")),
		})
	}
	return out
}

func resources(r gjson.Result) []model.Resource {
	var out []model.Resource
	if !r.IsArray() {
		return nil
	}
	for _, item := range r.Array() {
		if !item.IsObject() {
			continue
		}
		res := model.Resource{Title: text(item.Get("title")), URL: text(item.Get("url"))}
		if res.Title == "" && res.URL == "" {
			continue
		}
		out = append(out, res)
	}
	return out
}

// enum lower-cases a value and maps anything outside allowed to "medium".
func enum(r gjson.Result, allowed []string) string {
	v := strings.ToLower(text(r))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return "medium"
}

// Truncate bounds raw model output for storage on a failed row.
func Truncate(raw string) string {
	if len(raw) <= MaxRawResponse {
		return raw
	}
	cut := MaxRawResponse
	for cut > 0 && !isRuneStart(raw[cut]) {
		cut--
	}
	return raw[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
