package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mnemo-mcp/mnemo/internal/tools"
)

func GetTools(store *Store) []tools.Tool {
	return []tools.Tool{
		NewStoreTool(store),
		NewSearchTool(store),
		NewListTool(store),
		NewUpdateTool(store),
		NewDeleteTool(store),
	}
}

type StoreTool struct {
	store *Store
}

func NewStoreTool(store *Store) *StoreTool {
	return &StoreTool{store: store}
}

func (t *StoreTool) Name() string {
	return "memory_store"
}

func (t *StoreTool) Description() string {
	return `Store a note in project-scoped persistent memory.

Every entry belongs to exactly one project_id and an optional scope
sub-partition within it (e.g. "default", "decisions"). Entries may carry
tags for later filtering and an expires_at timestamp after which they are
purged automatically.`
}

func (t *StoreTool) Title() string {
	return "Store Memory Entry"
}

func (t *StoreTool) Annotations() map[string]bool {
	return tools.NonIdempotentWriteAnnotations()
}

func (t *StoreTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"project_id": {
				"type": "string",
				"description": "Owning project identifier"
			},
			"content": {
				"type": "string",
				"description": "Content to store"
			},
			"scope": {
				"type": "string",
				"description": "Sub-partition within the project (default: \"default\")"
			},
			"tags": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Tags for searchability"
			},
			"expires_at": {
				"type": "string",
				"description": "RFC 3339 timestamp after which the entry expires"
			}
		},
		"required": ["project_id", "content"]
	}`)
}

func (t *StoreTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var req struct {
		ProjectID string   `json:"project_id"`
		Content   string   `json:"content"`
		Scope     string   `json:"scope"`
		Tags      []string `json:"tags"`
		ExpiresAt string   `json:"expires_at"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("invalid expires_at: %w", err)
		}
		utc := parsed.UTC()
		expiresAt = &utc
	}

	entry, err := t.store.Create(req.ProjectID, req.Content, req.Scope, req.Tags, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store entry: %w", err)
	}

	return map[string]interface{}{
		"success":    true,
		"id":         entry.ID,
		"project_id": entry.ProjectID,
		"scope":      entry.Scope,
		"created_at": entry.CreatedAt.Format(time.RFC3339),
	}, nil
}

type SearchTool struct {
	store *Store
}

func NewSearchTool(store *Store) *SearchTool {
	return &SearchTool{store: store}
}

func (t *SearchTool) Name() string {
	return "memory_search"
}

func (t *SearchTool) Description() string {
	return `Search memory entries within a project.

An empty query returns the most recent entries for the scope. A tag with
an empty query returns entries carrying that tag, newest first. Otherwise
the query matches content and tags, either as a ranked full-text search
(use_fts: true) or a substring match.`
}

func (t *SearchTool) Title() string {
	return "Search Memory"
}

func (t *SearchTool) Annotations() map[string]bool {
	return tools.ReadOnlyAnnotations()
}

func (t *SearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"project_id": {
				"type": "string",
				"description": "Owning project identifier"
			},
			"query": {
				"type": "string",
				"description": "Search text; empty returns most recent entries"
			},
			"scope": {
				"type": "string",
				"description": "Sub-partition to search (default: \"default\")"
			},
			"tag": {
				"type": "string",
				"description": "Only return entries carrying this tag"
			},
			"limit": {
				"type": "integer",
				"description": "Max results, 1-100 (default: 5)"
			},
			"use_fts": {
				"type": "boolean",
				"description": "Use ranked full-text search instead of substring match"
			}
		},
		"required": ["project_id"]
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

	results, err := t.store.Search(p)
	if err != nil {
		log.Error("search failed", "project_id", p.ProjectID, "error", err)
		return nil, fmt.Errorf("search failed")
	}

	return map[string]interface{}{
		"query":   p.Query,
		"total":   len(results),
		"entries": results,
	}, nil
}

type ListTool struct {
	store *Store
}

func NewListTool(store *Store) *ListTool {
	return &ListTool{store: store}
}

func (t *ListTool) Name() string {
	return "memory_list"
}

func (t *ListTool) Description() string {
	return "List memory entries for a project with pagination, newest first"
}

func (t *ListTool) Title() string {
	return "List Memory Entries"
}

func (t *ListTool) Annotations() map[string]bool {
	return tools.ReadOnlyAnnotations()
}

func (t *ListTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"project_id": {
				"type": "string",
				"description": "Owning project identifier"
			},
			"scope": {
				"type": "string",
				"description": "Restrict to one scope; omit for all scopes"
			},
			"limit": {
				"type": "integer",
				"description": "Page size, 1-500 (default: 50)"
			},
			"offset": {
				"type": "integer",
				"description": "Number of entries to skip"
			}
		},
		"required": ["project_id"]
	}`)
}

func (t *ListTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var p ListParams
	if err := json.Unmarshal(input, &p); err != nil {
		return nil, err
	}

	page, err := t.store.List(p)
	if err != nil {
		log.Error("list failed", "project_id", p.ProjectID, "error", err)
		return nil, fmt.Errorf("list failed")
	}

	return page, nil
}

type UpdateTool struct {
	store *Store
}

func NewUpdateTool(store *Store) *UpdateTool {
	return &UpdateTool{store: store}
}

func (t *UpdateTool) Name() string {
	return "memory_update"
}

func (t *UpdateTool) Description() string {
	return `Update an existing memory entry.

PARTIAL UPDATES: only provided fields change; omit a field to keep its
current value. Set expires_at to an empty string to clear the expiry.`
}

func (t *UpdateTool) Title() string {
	return "Update Memory Entry"
}

func (t *UpdateTool) Annotations() map[string]bool {
	return tools.SafeWriteAnnotations()
}

func (t *UpdateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {
				"type": "string",
				"description": "Entry id"
			},
			"project_id": {
				"type": "string",
				"description": "Owning project identifier"
			},
			"content": {
				"type": "string",
				"description": "New content (optional)"
			},
			"tags": {
				"type": "array",
				"items": {"type": "string"},
				"description": "New tags (optional)"
			},
			"expires_at": {
				"type": "string",
				"description": "New RFC 3339 expiry; empty string clears it (optional)"
			}
		},
		"required": ["id", "project_id"]
	}`)
}

func (t *UpdateTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var req struct {
		ID        string    `json:"id"`
		ProjectID string    `json:"project_id"`
		Content   *string   `json:"content"`
		Tags      *[]string `json:"tags"`
		ExpiresAt *string   `json:"expires_at"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, err
	}

	entry, err := t.store.Update(req.ID, req.ProjectID, req.Content, req.Tags, req.ExpiresAt)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, tools.NewNotFoundError("entry", req.ID)
		}
		log.Error("update failed", "id", req.ID, "error", err)
		return nil, fmt.Errorf("update failed")
	}

	return map[string]interface{}{
		"success": true,
		"entry":   entry,
	}, nil
}

type DeleteTool struct {
	store *Store
}

func NewDeleteTool(store *Store) *DeleteTool {
	return &DeleteTool{store: store}
}

func (t *DeleteTool) Name() string {
	return "memory_delete"
}

func (t *DeleteTool) Description() string {
	return "Delete a memory entry. Idempotent: deleting an absent id reports deleted=false instead of failing."
}

func (t *DeleteTool) Title() string {
	return "Delete Memory Entry"
}

func (t *DeleteTool) Annotations() map[string]bool {
	return tools.DestructiveAnnotations()
}

func (t *DeleteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {
				"type": "string",
				"description": "Entry id"
			},
			"project_id": {
				"type": "string",
				"description": "Owning project identifier"
			}
		},
		"required": ["id", "project_id"]
	}`)
}

func (t *DeleteTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var req struct {
		ID        string `json:"id"`
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, err
	}

	deleted, err := t.store.Delete(req.ID, req.ProjectID)
	if err != nil {
		log.Error("delete failed", "id", req.ID, "error", err)
		return nil, fmt.Errorf("delete failed")
	}

	return map[string]interface{}{
		"deleted": deleted,
		"id":      req.ID,
	}, nil
}
