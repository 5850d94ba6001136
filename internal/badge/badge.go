// Package badge renders the two-segment "code quality" SVG badge.
//
// Output depends only on the score (or its absence): the same input always
// yields byte-identical SVG, so the badge can be cached by any HTTP cache.
package badge

import (
	"fmt"
	"math"
	"strings"

	"github.com/sakif/repo-analyser/internal/model"
)

const (
	Label = "code quality"

	ContentType  = "image/svg+xml"
	CacheControl = "public, max-age=300, s-maxage=300, stale-while-revalidate=600"

	labelColor   = "#555"
	neutralColor = "#6B7280"
	fontFamily   = "DejaVu Sans,Verdana,Geneva,sans-serif"
	fontSize     = 11
	padding      = 10 // per side of each segment's text
)

// TierColor maps model.Tier names to fill colours.
var TierColor = map[string]string{
	"Excellent":  "#10B981",
	"Good":       "#3B82F6",
	"Fair":       "#F59E0B",
	"Needs Work": "#EF4444",
}

type Badge struct {
	Label string
	Value string
	Color string
}

// ForScore builds the badge for an overall score.
func ForScore(score int) Badge {
	tier := model.Tier(score)
	return Badge{
		Label: Label,
		Value: fmt.Sprintf("%d/100 %s", score, tier),
		Color: TierColor[tier],
	}
}

// NoAnalysis is shown when a repository has no completed analysis.
func NoAnalysis() Badge {
	return Badge{Label: Label, Value: "No Analysis", Color: neutralColor}
}

// Width returns the label and value segment widths in pixels.
func (b Badge) Width() (label, value int) {
	return Measure(b.Label) + padding, Measure(b.Value) + padding
}

// SVG renders the badge.
func (b Badge) SVG() string {
	lw, vw := b.Width()
	total := lw + vw
	label, value := escape(b.Label), escape(b.Value)
	lx, vx := float64(lw)/2, float64(lw)+float64(vw)/2

	var s strings.Builder
	fmt.Fprintf(&s, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="20" role="img" aria-label="%s: %s">`, total, label, value)
	fmt.Fprintf(&s, `<title>%s: %s</title>`, label, value)
	s.WriteString(`<linearGradient id="s" x2="0" y2="100%"><stop offset="0" stop-color="#bbb" stop-opacity=".1"/><stop offset="1" stop-opacity=".1"/></linearGradient>`)
	fmt.Fprintf(&s, `<mask id="r"><rect width="%d" height="20" rx="3" fill="#fff"/></mask>`, total)
	s.WriteString(`<g mask="url(#r)">`)
	fmt.Fprintf(&s, `<rect width="%d" height="20" fill="%s"/>`, lw, labelColor)
	fmt.Fprintf(&s, `<rect x="%d" width="%d" height="20" fill="%s"/>`, lw, vw, b.Color)
	fmt.Fprintf(&s, `<rect width="%d" height="20" fill="url(#s)"/>`, total)
	s.WriteString(`</g>`)
	fmt.Fprintf(&s, `<g fill="#fff" text-anchor="middle" font-family="%s" font-size="%d">`, fontFamily, fontSize)
	fmt.Fprintf(&s, `<text x="%.1f" y="15" fill="#010101" fill-opacity=".3">%s</text><text x="%.1f" y="14">%s</text>`, lx, label, lx, label)
	fmt.Fprintf(&s, `<text x="%.1f" y="15" fill="#010101" fill-opacity=".3">%s</text><text x="%.1f" y="14">%s</text>`, vx, value, vx, value)
	s.WriteString(`</g></svg>`)
	return s.String()
}

// Measure returns the rendered width of text in DejaVu Sans at 11px,
// rounded up to a whole pixel.
func Measure(text string) int {
	units := 0
	for _, r := range text {
		if r >= 32 && r < 127 {
			units += advance[r-32]
		} else {
			units += fallbackAdvance
		}
	}
	return int(math.Ceil(float64(units) * fontSize / unitsPerEm))
}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")

func escape(s string) string { return xmlEscaper.Replace(s) }
