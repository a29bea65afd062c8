package knowledge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mnemo-mcp/mnemo/internal/tools"
)

func GetTools(store *Store) []tools.Tool {
	return []tools.Tool{
		NewAddTool(store),
		NewSearchTool(store),
	}
}

type AddTool struct {
	store *Store
}

func NewAddTool(store *Store) *AddTool {
	return &AddTool{store: store}
}

func (t *AddTool) Name() string {
	return "knowledge_add"
}

func (t *AddTool) Description() string {
	return `Add a document to the knowledge base.

The document is indexed for full-text search. When a vector embedding is
supplied it is also written to the vector index; if that write fails the
document is not added at all.`
}

func (t *AddTool) Title() string {
	return "Add Knowledge Document"
}

func (t *AddTool) Annotations() map[string]bool {
	return tools.NonIdempotentWriteAnnotations()
}

func (t *AddTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {
				"type": "string",
				"description": "Document title"
			},
			"content": {
				"type": "string",
				"description": "Document body"
			},
			"source": {
				"type": "string",
				"description": "Where the document came from (URL, path, ...)"
			},
			"project_id": {
				"type": "string",
				"description": "Scope the document to one project; omit for global"
			},
			"vector": {
				"type": "array",
				"items": {"type": "number"},
				"description": "Embedding vector for semantic search"
			}
		},
		"required": ["title", "content"]
	}`)
}

func (t *AddTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var req struct {
		Title     string    `json:"title"`
		Content   string    `json:"content"`
		Source    string    `json:"source"`
		ProjectID string    `json:"project_id"`
		Vector    []float32 `json:"vector"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, err
	}

	doc, err := t.store.Add(ctx, req.Title, req.Content, req.Source, req.ProjectID, req.Vector)
	if err != nil {
		log.Error("add failed", "title", req.Title, "error", err)
		if req.Vector != nil {
			return nil, tools.NewExternalError("vector index", err)
		}
		return nil, fmt.Errorf("failed to add document")
	}

	return map[string]interface{}{
		"success": true,
		"id":      doc.ID,
		"title":   doc.Title,
	}, nil
}

type SearchTool struct {
	store *Store
}

func NewSearchTool(store *Store) *SearchTool {
	return &SearchTool{store: store}
}

func (t *SearchTool) Name() string {
	return "knowledge_search"
}

func (t *SearchTool) Description() string {
	return `Search the knowledge base.

With a vector the search runs against the vector index and returns
similarity-ranked documents. With a text query it runs a ranked
full-text search. An empty query returns the newest documents.`
}

func (t *SearchTool) Title() string {
	return "Search Knowledge"
}

func (t *SearchTool) Annotations() map[string]bool {
	return tools.ReadOnlyAnnotations()
}

func (t *SearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "Search text; empty returns newest documents"
			},
			"project_id": {
				"type": "string",
				"description": "Only return documents scoped to this project"
			},
			"limit": {
				"type": "integer",
				"description": "Max results, 1-100 (default: 5)"
			},
			"vector": {
				"type": "array",
				"items": {"type": "number"},
				"description": "Embedding vector; when present the search is semantic"
			}
		}
	}`)
}

func (t *SearchTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var p SearchParams
	if err := json.Unmarshal(input, &p); err != nil {
		return nil, err
	}

	docs, err := t.store.Search(ctx, p)
	if err != nil {
		log.Error("search failed", "query", p.Query, "error", err)
		if p.Vector != nil {
			return nil, tools.NewExternalError("vector index", err)
		}
		return nil, fmt.Errorf("search failed")
	}

	return map[string]interface{}{
		"query":     p.Query,
		"total":     len(docs),
		"documents": docs,
	}, nil
}
