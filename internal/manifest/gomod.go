package manifest

import "golang.org/x/mod/modfile"

type GoModParser struct{}

func (GoModParser) CanParse(filename string) bool { return filename == "go.mod" }

// Parse uses the lax parser so unknown directives from newer toolchains do not
// fail the read.
func (GoModParser) Parse(data []byte) (*Manifest, error) {
	f, err := modfile.ParseLax("go.mod", data, nil)
	if err != nil {
		return nil, err
	}
	m := &Manifest{Kind: "go", Dependencies: map[string]string{}}
	if f.Module != nil {
		m.Name = f.Module.Mod.Path
	}
	if f.Go != nil {
		m.Version = "go" + f.Go.Version
	}
	for _, r := range f.Require {
		m.Dependencies[r.Mod.Path] = r.Mod.Version
	}
	return m, nil
}
