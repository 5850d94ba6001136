package manifest

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

type CargoTomlParser struct{}

func (CargoTomlParser) CanParse(filename string) bool { return filename == "Cargo.toml" }

func (CargoTomlParser) Parse(data []byte) (*Manifest, error) {
	var cargo struct {
		Package struct {
			Name    string `toml:"name"`
			Version any    `toml:"version"` // a string, or {workspace = true}
		} `toml:"package"`
		Dependencies      map[string]any `toml:"dependencies"`
		DevDependencies   map[string]any `toml:"dev-dependencies"`
		BuildDependencies map[string]any `toml:"build-dependencies"`
	}
	if err := toml.Unmarshal(data, &cargo); err != nil {
		return nil, err
	}

	m := &Manifest{Kind: "cargo", Name: cargo.Package.Name, Dependencies: map[string]string{}}
	if v, ok := cargo.Package.Version.(string); ok {
		m.Version = v
	}
	for _, section := range []map[string]any{cargo.Dependencies, cargo.DevDependencies, cargo.BuildDependencies} {
		for name, spec := range section {
			if _, seen := m.Dependencies[name]; !seen {
				m.Dependencies[name] = tableVersion(spec)
			}
		}
	}
	return m, nil
}

type PyProjectParser struct{}

func (PyProjectParser) CanParse(filename string) bool { return filename == "pyproject.toml" }

// Parse reads PEP 621 [project] metadata and falls back to [tool.poetry].
func (PyProjectParser) Parse(data []byte) (*Manifest, error) {
	var py struct {
		Project struct {
			Name         string   `toml:"name"`
			Version      string   `toml:"version"`
			Dependencies []string `toml:"dependencies"`
		} `toml:"project"`
		Tool struct {
			Poetry struct {
				Name         string         `toml:"name"`
				Version      string         `toml:"version"`
				Dependencies map[string]any `toml:"dependencies"`
			} `toml:"poetry"`
		} `toml:"tool"`
	}
	if err := toml.Unmarshal(data, &py); err != nil {
		return nil, err
	}

	m := &Manifest{Kind: "python", Name: py.Project.Name, Version: py.Project.Version, Dependencies: map[string]string{}}
	for _, req := range py.Project.Dependencies {
		name, spec := splitPythonRequirement(req)
		if name != "" {
			m.Dependencies[name] = spec
		}
	}

	poetry := py.Tool.Poetry
	if m.Name == "" {
		m.Name = poetry.Name
	}
	if m.Version == "" {
		m.Version = poetry.Version
	}
	for name, spec := range poetry.Dependencies {
		if name == "python" {
			continue
		}
		if _, seen := m.Dependencies[name]; !seen {
			m.Dependencies[name] = tableVersion(spec)
		}
	}
	return m, nil
}

// tableVersion reads a dependency given either as "1.2" or as
// { version = "1.2", features = [...] }.
func tableVersion(spec any) string {
	switch v := spec.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["version"].(string); ok {
			return s
		}
		if _, ok := v["git"]; ok {
			return "git"
		}
		if _, ok := v["path"]; ok {
			return "path"
		}
		if w, ok := v["workspace"].(bool); ok && w {
			return "workspace"
		}
		return ""
	default:
		return fmt.Sprint(v)
	}
}
