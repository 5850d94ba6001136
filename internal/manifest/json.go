package manifest

import "encoding/json"

type PackageJSONParser struct{}

func (PackageJSONParser) CanParse(filename string) bool { return filename == "package.json" }

func (PackageJSONParser) Parse(data []byte) (*Manifest, error) {
	var pkg struct {
		Name            string            `json:"name"`
		Version         string            `json:"version"`
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}
	return &Manifest{
		Kind:         "npm",
		Name:         pkg.Name,
		Version:      pkg.Version,
		Dependencies: merge(pkg.Dependencies, pkg.DevDependencies),
	}, nil
}

type ComposerJSONParser struct{}

func (ComposerJSONParser) CanParse(filename string) bool { return filename == "composer.json" }

func (ComposerJSONParser) Parse(data []byte) (*Manifest, error) {
	var c struct {
		Name       string            `json:"name"`
		Version    string            `json:"version"`
		Require    map[string]string `json:"require"`
		RequireDev map[string]string `json:"require-dev"`
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &Manifest{
		Kind:         "composer",
		Name:         c.Name,
		Version:      c.Version,
		Dependencies: merge(c.Require, c.RequireDev),
	}, nil
}

// merge combines dependency maps; earlier maps win on duplicate names.
func merge(maps ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, m := range maps {
		for k, v := range m {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	return out
}
