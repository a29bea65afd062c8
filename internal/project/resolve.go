// Package project resolves a filesystem path to a stable project id.
// Detection strategies are tried in order; the first one that succeeds
// wins. Resolution is advisory: a mismatch between a detected id and an
// explicitly supplied one is reported, never enforced.
package project

import (
	"os"
	"path/filepath"

	"github.com/mnemo-mcp/mnemo/internal/logger"
)

var log = logger.ForComponent("project")

type Resolution struct {
	ProjectID        string `json:"project_id"`
	NormalizedRoot   string `json:"normalized_root"`
	DetectionMethod  string `json:"detection_method"`
	ExplicitMismatch bool   `json:"explicit_mismatch"`
}

// Strategy derives a project id from a normalized root path, or reports
// that it does not apply.
type Strategy interface {
	Name() string
	Detect(root string) (string, bool)
}

type Resolver struct {
	strategies []Strategy
}

// NewResolver builds the default chain: explicit environment override,
// then the enclosing git repository, then the directory name. The last
// strategy always succeeds.
func NewResolver() *Resolver {
	return &Resolver{
		strategies: []Strategy{
			envStrategy{},
			gitStrategy{},
			basenameStrategy{},
		},
	}
}

func NewResolverWith(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// Resolve normalizes path and runs the strategy chain. When explicit is
// non-empty it always wins; a disagreement with the detected id only sets
// ExplicitMismatch and logs a warning.
func (r *Resolver) Resolve(path, explicit string) Resolution {
	root := normalize(path)

	res := Resolution{NormalizedRoot: root}
	for _, s := range r.strategies {
		if id, ok := s.Detect(root); ok {
			res.ProjectID = id
			res.DetectionMethod = s.Name()
			break
		}
	}

	if explicit != "" {
		if res.ProjectID != "" && res.ProjectID != explicit {
			res.ExplicitMismatch = true
			log.Warn("explicit project id disagrees with detection",
				"explicit", explicit,
				"detected", res.ProjectID,
				"method", res.DetectionMethod)
		}
		res.ProjectID = explicit
		res.DetectionMethod = "explicit"
	}

	return res
}

func normalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}

type envStrategy struct{}

func (envStrategy) Name() string { return "env" }

func (envStrategy) Detect(root string) (string, bool) {
	id := os.Getenv("MNEMO_PROJECT_ID")
	return id, id != ""
}

// gitStrategy walks up from the root looking for a .git entry and uses
// the repository directory's name. A .git file (worktrees, submodules)
// counts the same as a directory.
type gitStrategy struct{}

func (gitStrategy) Name() string { return "git" }

func (gitStrategy) Detect(root string) (string, bool) {
	dir := root
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return filepath.Base(dir), true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

type basenameStrategy struct{}

func (basenameStrategy) Name() string { return "basename" }

func (basenameStrategy) Detect(root string) (string, bool) {
	base := filepath.Base(root)
	if base == "." || base == string(filepath.Separator) {
		return "default", true
	}
	return base, true
}
