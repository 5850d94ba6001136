package manifest

import (
	"bufio"
	"bytes"
	"strings"
)

type RequirementsParser struct{}

func (RequirementsParser) CanParse(filename string) bool { return filename == "requirements.txt" }

// Parse reads one requirement per line. Comments, blank lines and pip options
// (-r, -e, --index-url ...) are skipped.
func (RequirementsParser) Parse(data []byte) (*Manifest, error) {
	m := &Manifest{Kind: "pip", Dependencies: map[string]string{}}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}
		name, spec := splitPythonRequirement(line)
		if name != "" {
			m.Dependencies[name] = spec
		}
	}
	return m, scanner.Err()
}
