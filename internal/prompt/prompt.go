// Package prompt renders the model prompts for repository and snippet reviews.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sakif/repo-analyser/internal/manifest"
)

// AnalysisSystem defines the report schema and demands a bare JSON object.
const AnalysisSystem = `You are an expert in code analysis and security. Analyze the following source repository and provide a detailed review.

You must respond ONLY with a valid JSON object that has EXACTLY this structure:

{
  "quality": {
    "score": <number 0-100>,
    "summary": "<text>",
    "issues": ["<issue>"],
    "strengths": ["<strength>"]
  },
  "security": {
    "score": <number 0-100>,
    "vulnerabilities": [
      {
        "severity": "<critical|high|medium|low>",
        "description": "<text>",
        "recommendation": "<text>"
      }
    ]
  },
  "structure": {
    "score": <number 0-100>,
    "organization": "<text>",
    "improvements": ["<improvement>"]
  },
  "recommendations": [
    {
      "category": "<text>",
      "priority": "<high|medium|low>",
      "description": "<text>",
      "implementation": "<text>",
      "resources": [{"title": "<text>", "url": "<url>"}],
      "example": "<code example if applicable>"
    }
  ],
  "overall_score": <number 0-100>,
  "summary": "<text>"
}

Respond ONLY with the JSON. Do not add explanations, markdown or any other text.`

// SnippetSystem is the system prompt for free-form snippet reviews.
const SnippetSystem = "You are a code analysis expert who provides constructive and detailed feedback."

// File is one selected source file, already cleaned and redacted.
type File struct {
	Path    string
	Content string
}

// RepoContext is everything gathered about a repository for one run.
type RepoContext struct {
	FullName string
	Readme   string
	Files    []File
	Manifest *manifest.Manifest
}

// Empty reports whether there is nothing worth sending to the model.
func (rc RepoContext) Empty() bool {
	return len(rc.Files) == 0 && strings.TrimSpace(rc.Readme) == "" && rc.Manifest == nil
}

type Limits struct {
	ReadmeChars int
	FileChars   int
}

const (
	DefaultReadmeChars = 4000
	DefaultFileChars   = 2000
)

// Repository renders the user prompt. Sections always appear in the same
// order: repository name, README, files in the given order, manifest.
func Repository(rc RepoContext, lim Limits) string {
	if lim.ReadmeChars <= 0 {
		lim.ReadmeChars = DefaultReadmeChars
	}
	if lim.FileChars <= 0 {
		lim.FileChars = DefaultFileChars
	}

	var b strings.Builder
	b.WriteString("Analyze this repository and respond with JSON.\n\n")
	fmt.Fprintf(&b, "# Repository: %s\n\n", rc.FullName)

	b.WriteString("## README\n")
	if readme := strings.TrimSpace(rc.Readme); readme != "" {
		b.WriteString(Truncate(readme, lim.ReadmeChars))
	} else {
		b.WriteString("No README available")
	}
	b.WriteString("\n\n")

	b.WriteString("## Project files:\n")
	if len(rc.Files) == 0 {
		b.WriteString("No source files selected\n")
	}
	for _, f := range rc.Files {
		fmt.Fprintf(&b, "\n### %s\n```\n%s\n```\n", f.Path, Truncate(f.Content, lim.FileChars))
	}

	if m := rc.Manifest; m != nil {
		fmt.Fprintf(&b, "\n## %s\n", m.Path)
		if m.Name != "" {
			fmt.Fprintf(&b, "name: %s\n", m.Name)
		}
		if m.Version != "" {
			fmt.Fprintf(&b, "version: %s\n", m.Version)
		}
		if deps := m.SortedDependencies(); len(deps) > 0 {
			b.WriteString("dependencies:\n")
			for _, d := range deps {
				fmt.Fprintf(&b, "- %s\n", d)
			}
		}
	}
	return b.String()
}

// Snippet renders the user prompt for a snippet review.
func Snippet(code, language, focus string) string {
	return fmt.Sprintf("Analyze this %s code snippet focusing on %s. Provide specific feedback and recommendations:\n\n"+
		"```%s\n%s\n```\n\n"+
		"Respond with:\n1. Issues found\n2. Specific recommendations\n3. Improved code if applicable",
		language, focus, language, code)
}

// Truncate keeps at most n characters of s without splitting a rune.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// CleanBlob removes NUL bytes and trailing whitespace from file content.
func CleanBlob(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimRight(s, " \t\r\n")
}
