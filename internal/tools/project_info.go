package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mnemo-mcp/mnemo/internal/discovery"
	"github.com/mnemo-mcp/mnemo/internal/project"
)

// ProjectInfoTool resolves a path to its project identity and optionally
// lists files under it. Purely advisory; an explicit_mismatch in the
// result never blocks anything.
type ProjectInfoTool struct {
	resolver *project.Resolver
}

func NewProjectInfoTool(resolver *project.Resolver) *ProjectInfoTool {
	return &ProjectInfoTool{resolver: resolver}
}

func (t *ProjectInfoTool) Name() string {
	return "project_info"
}

func (t *ProjectInfoTool) Description() string {
	return `Resolve a filesystem path to its project identity.

Detection tries the MNEMO_PROJECT_ID environment variable, then the
enclosing git repository, then the directory name. An explicitly passed
project_id always wins; a disagreement is only reported, never enforced.
Optional glob patterns list matching files under the resolved root.`
}

func (t *ProjectInfoTool) Title() string {
	return "Project Info"
}

func (t *ProjectInfoTool) Annotations() map[string]bool {
	return ReadOnlyAnnotations()
}

func (t *ProjectInfoTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Filesystem path inside the project"
			},
			"project_id": {
				"type": "string",
				"description": "Explicit project id; overrides detection"
			},
			"patterns": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Glob patterns (doublestar syntax) to list files under the root"
			}
		},
		"required": ["path"]
	}`)
}

func (t *ProjectInfoTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var req struct {
		Path      string   `json:"path"`
		ProjectID string   `json:"project_id"`
		Patterns  []string `json:"patterns"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, err
	}

	res := t.resolver.Resolve(req.Path, req.ProjectID)

	result := map[string]interface{}{
		"project_id":        res.ProjectID,
		"normalized_root":   res.NormalizedRoot,
		"detection_method":  res.DetectionMethod,
		"explicit_mismatch": res.ExplicitMismatch,
	}

	if len(req.Patterns) > 0 {
		files, err := discovery.Discover(res.NormalizedRoot, req.Patterns)
		if err != nil {
			return nil, fmt.Errorf("file discovery failed: %w", err)
		}
		result["files"] = files
		result["file_count"] = len(files)
	}

	return result, nil
}
