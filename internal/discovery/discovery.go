// Package discovery enumerates project files matching glob patterns.
// Results are relative to the root, deduplicated, and sorted, so the
// output is stable across runs.
package discovery

import (
	"io/fs"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Discover matches patterns against the tree under root. Patterns use
// doublestar syntax ("**/*.go"). A pattern that matches nothing is not an
// error; an unreadable root is.
func Discover(root string, patterns []string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}

	fsys := os.DirFS(root)
	seen := make(map[string]struct{})

	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			info, err := fs.Stat(fsys, m)
			if err != nil || info.IsDir() {
				continue
			}
			seen[m] = struct{}{}
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}
