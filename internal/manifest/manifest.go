// Package manifest reads root-level package manifests into a single,
// language-neutral shape.
package manifest

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Manifest is the project metadata found in a repository root.
type Manifest struct {
	Kind         string            `json:"kind"` // npm | go | cargo | python | composer | pip
	Path         string            `json:"path"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// SortedDependencies returns "name version" pairs ordered by name.
func (m *Manifest) SortedDependencies() []string {
	names := make([]string, 0, len(m.Dependencies))
	for n := range m.Dependencies {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, n := range names {
		if v := m.Dependencies[n]; v != "" {
			out = append(out, n+" "+v)
		} else {
			out = append(out, n)
		}
	}
	return out
}

// Parser reads one manifest format.
type Parser interface {
	CanParse(filename string) bool
	Parse(data []byte) (*Manifest, error)
}

// Registry holds the parsers in lookup priority order.
type Registry struct {
	parsers []Parser
}

func NewRegistry() *Registry {
	return &Registry{
		parsers: []Parser{
			PackageJSONParser{},
			GoModParser{},
			CargoTomlParser{},
			PyProjectParser{},
			ComposerJSONParser{},
			RequirementsParser{},
		},
	}
}

// Filenames lists the root files the registry understands, in priority order.
func Filenames() []string {
	return []string{"package.json", "go.mod", "Cargo.toml", "pyproject.toml", "composer.json", "requirements.txt"}
}

// Parse picks the parser for filename and runs it.
func (r *Registry) Parse(filename string, data []byte) (*Manifest, error) {
	base := path.Base(filename)
	for _, p := range r.parsers {
		if !p.CanParse(base) {
			continue
		}
		m, err := p.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("manifest: parsing %s: %w", base, err)
		}
		m.Path = filename
		if m.Dependencies == nil {
			m.Dependencies = map[string]string{}
		}
		return m, nil
	}
	return nil, fmt.Errorf("manifest: no parser for %s", base)
}

// Supported reports whether some parser accepts filename.
func (r *Registry) Supported(filename string) bool {
	base := path.Base(filename)
	for _, p := range r.parsers {
		if p.CanParse(base) {
			return true
		}
	}
	return false
}

// splitPythonRequirement splits "requests>=2.0 ; python_version>'3'" into the
// name and the version specifier, ignoring extras and environment markers.
func splitPythonRequirement(req string) (string, string) {
	req, _, _ = strings.Cut(req, ";")
	req = strings.TrimSpace(req)
	idx := strings.IndexAny(req, "<>=!~ ")
	if idx < 0 {
		return stripExtras(req), ""
	}
	return stripExtras(strings.TrimSpace(req[:idx])), strings.ReplaceAll(strings.TrimSpace(req[idx:]), " ", "")
}

func stripExtras(name string) string {
	if i := strings.Index(name, "["); i >= 0 {
		return name[:i]
	}
	return name
}
