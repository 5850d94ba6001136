// Package selector picks which repository files are worth sending to the model.
package selector

import (
	"path"
	"sort"
	"strings"

	"github.com/sakif/repo-analyser/internal/sourcehost"
)

// DefaultMaxFiles is the number of files kept when Options.MaxFiles is zero.
const DefaultMaxFiles = 15

// DefaultExtensions are the source file suffixes considered for analysis.
var DefaultExtensions = []string{".js", ".ts", ".jsx", ".tsx", ".py", ".java", ".go", ".rs", ".php"}

// ExcludedSegments never contribute files, wherever they appear in a path.
var ExcludedSegments = []string{"node_modules", "dist", "build", "vendor", "target", ".git"}

type Options struct {
	MaxFiles   int
	Extensions []string
}

// Select filters the tree to source blobs outside excluded directories, orders
// them shallowest first and then by path, and keeps the first MaxFiles.
// The result depends only on the set of entries, never on their order.
func Select(tree []sourcehost.TreeEntry, opts Options) []string {
	max := opts.MaxFiles
	if max <= 0 {
		max = DefaultMaxFiles
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		allowed[strings.ToLower(e)] = true
	}
	excluded := make(map[string]bool, len(ExcludedSegments))
	for _, s := range ExcludedSegments {
		excluded[s] = true
	}

	seen := make(map[string]bool)
	var paths []string
	for _, e := range tree {
		if e.Type != "blob" || seen[e.Path] {
			continue
		}
		if !allowed[strings.ToLower(path.Ext(e.Path))] {
			continue
		}
		if hasExcludedSegment(e.Path, excluded) {
			continue
		}
		seen[e.Path] = true
		paths = append(paths, e.Path)
	}

	sort.SliceStable(paths, func(i, j int) bool {
		di, dj := strings.Count(paths[i], "/"), strings.Count(paths[j], "/")
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})

	if len(paths) > max {
		paths = paths[:max]
	}
	return paths
}

func hasExcludedSegment(p string, excluded map[string]bool) bool {
	for _, seg := range strings.Split(p, "/") {
		if excluded[seg] {
			return true
		}
	}
	return false
}
