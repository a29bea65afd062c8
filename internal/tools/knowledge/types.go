package knowledge

// Document is a knowledge base entry. The id is the rowid of the local
// text index and doubles as the point id in the vector index.
type Document struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	Source    string  `json:"source,omitempty"`
	ProjectID string  `json:"project_id,omitempty"`
	Score     float64 `json:"score,omitempty"`
}

type SearchParams struct {
	Query     string    `json:"query"`
	ProjectID string    `json:"project_id"`
	Limit     int       `json:"limit"`
	Vector    []float32 `json:"vector"`
}
