package memory

import "time"

// Entry is a project-scoped note. ProjectID is the isolation key: no
// operation returns or mutates rows outside the caller's project.
type Entry struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Scope     string     `json:"scope"`
	Content   string     `json:"content"`
	Tags      []string   `json:"tags"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type SearchParams struct {
	ProjectID string `json:"project_id"`
	Query     string `json:"query"`
	Scope     string `json:"scope"`
	Tag       string `json:"tag"`
	Limit     int    `json:"limit"`
	UseFTS    bool   `json:"use_fts"`
}

type ListParams struct {
	ProjectID string `json:"project_id"`
	// Scope empty means all scopes within the project.
	Scope  string `json:"scope"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type Page struct {
	TotalCount int      `json:"total_count"`
	Offset     int      `json:"offset"`
	Limit      int      `json:"limit"`
	HasMore    bool     `json:"has_more"`
	Entries    []*Entry `json:"entries"`
}
