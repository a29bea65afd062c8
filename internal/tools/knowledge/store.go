package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mnemo-mcp/mnemo/internal/cache"
	"github.com/mnemo-mcp/mnemo/internal/logger"
	"github.com/mnemo-mcp/mnemo/internal/retry"
	"github.com/mnemo-mcp/mnemo/internal/vectorstore"
)

var log = logger.ForComponent("knowledge")

// VectorIndex is the slice of the vector store the knowledge store needs.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, points []vectorstore.Point) error
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]vectorstore.ScoredPoint, error)
}

type Store struct {
	db         *sql.DB
	cache      *cache.QueryCache
	vectors    VectorIndex
	collection string
	mu         sync.Mutex
}

func Open(dbPath string, qc *cache.QueryCache, vectors VectorIndex, collection string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, err
	}

	s := &Store{db: db, cache: qc, vectors: vectors, collection: collection}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS documents USING fts5(title, content, source);

	CREATE TABLE IF NOT EXISTS document_projects (
		doc_id INTEGER PRIMARY KEY,
		project_id TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_document_projects_project ON document_projects(project_id);
	`

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Debug("wal checkpoint failed", "error", err)
	}
	return s.db.Close()
}

// Add inserts a document into the text index and, when a vector is
// supplied, into the external vector index as one logical operation: if
// the external upsert fails, the local rows are removed again and the
// original error is returned. No document may exist in only one place.
func (s *Store) Add(ctx context.Context, title, content, source, projectID string, vector []float32) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		"INSERT INTO documents (title, content, source) VALUES (?, ?, ?)",
		title, content, source,
	)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	if projectID != "" {
		if _, err := s.db.Exec(
			"INSERT INTO document_projects (doc_id, project_id) VALUES (?, ?)",
			id, projectID,
		); err != nil {
			s.rollback(id)
			return nil, err
		}
	}

	if vector != nil {
		if err := s.indexVector(ctx, id, title, content, source, projectID, vector); err != nil {
			s.rollback(id)
			return nil, err
		}
	}

	s.cache.Clear()

	return &Document{
		ID:        id,
		Title:     title,
		Content:   content,
		Source:    source,
		ProjectID: projectID,
	}, nil
}

func (s *Store) indexVector(ctx context.Context, id int64, title, content, source, projectID string, vector []float32) error {
	ctx, cancel := context.WithTimeout(ctx, vectorstore.CallTimeout)
	defer cancel()

	if err := s.vectors.EnsureCollection(ctx, s.collection); err != nil {
		return err
	}

	payload := map[string]any{
		"title":   title,
		"content": content,
		"source":  source,
	}
	if projectID != "" {
		payload["project_id"] = projectID
	}

	return s.vectors.Upsert(ctx, s.collection, []vectorstore.Point{
		{ID: id, Vector: vector, Payload: payload},
	})
}

// rollback is the compensating delete for a failed add: the external call
// is not transactional with the local writes, so the local side is
// undone explicitly.
func (s *Store) rollback(id int64) {
	if _, err := s.db.Exec("DELETE FROM document_projects WHERE doc_id = ?", id); err != nil {
		log.Error("rollback of project scoping failed", "doc_id", id, "error", err)
	}
	if _, err := s.db.Exec("DELETE FROM documents WHERE rowid = ?", id); err != nil {
		log.Error("rollback of document failed", "doc_id", id, "error", err)
	}
}

func (s *Store) Search(ctx context.Context, p SearchParams) ([]*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 5
	}

	if p.Vector != nil {
		return s.vectorSearch(ctx, p)
	}

	key := cache.Key("knowledge_search", struct {
		Query     string `json:"query"`
		ProjectID string `json:"project_id"`
		Limit     int    `json:"limit"`
	}{p.Query, p.ProjectID, p.Limit})
	if cached, ok := s.cache.Get(key); ok {
		return cached.([]*Document), nil
	}

	var docs []*Document
	var err error
	if p.Query == "" {
		docs, err = s.recent(p.ProjectID, p.Limit)
	} else {
		docs, err = s.textSearch(p.Query, p.ProjectID, p.Limit)
	}
	if err != nil {
		return nil, err
	}

	s.cache.Set(key, docs)
	return docs, nil
}

func (s *Store) vectorSearch(ctx context.Context, p SearchParams) ([]*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, vectorstore.CallTimeout)
	defer cancel()

	var hits []vectorstore.ScoredPoint
	err := retry.Do(ctx, retry.DefaultOptions(), func() error {
		var searchErr error
		hits, searchErr = s.vectors.Search(ctx, s.collection, p.Vector, p.Limit)
		return searchErr
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	docs := make([]*Document, 0, len(hits))
	for _, hit := range hits {
		doc := &Document{ID: hit.ID, Score: hit.Score}
		doc.Title, _ = hit.Payload["title"].(string)
		doc.Content, _ = hit.Payload["content"].(string)
		doc.Source, _ = hit.Payload["source"].(string)
		doc.ProjectID, _ = hit.Payload["project_id"].(string)

		if doc.Title == "" || doc.Content == "" {
			s.backfill(doc)
		}

		if p.ProjectID != "" && doc.ProjectID != p.ProjectID {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// backfill re-reads title/content/source from the local text index when
// the vector payload was stored without them.
func (s *Store) backfill(doc *Document) {
	row := s.db.QueryRow(
		"SELECT d.title, d.content, d.source, COALESCE(p.project_id, '') "+
			"FROM documents d LEFT JOIN document_projects p ON p.doc_id = d.rowid "+
			"WHERE d.rowid = ?",
		doc.ID,
	)
	var title, content, source, projectID string
	if err := row.Scan(&title, &content, &source, &projectID); err != nil {
		log.Warn("backfill failed", "doc_id", doc.ID, "error", err)
		return
	}
	if doc.Title == "" {
		doc.Title = title
	}
	if doc.Content == "" {
		doc.Content = content
	}
	if doc.Source == "" {
		doc.Source = source
	}
	if doc.ProjectID == "" {
		doc.ProjectID = projectID
	}
}

func (s *Store) recent(projectID string, limit int) ([]*Document, error) {
	query := "SELECT d.rowid, d.title, d.content, d.source, COALESCE(p.project_id, '') " +
		"FROM documents d LEFT JOIN document_projects p ON p.doc_id = d.rowid "
	var args []interface{}
	if projectID != "" {
		query += "WHERE p.project_id = ? "
		args = append(args, projectID)
	}
	query += "ORDER BY d.rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocuments(rows, false)
}

// textSearch ranks matches by bm25 cost, ascending.
func (s *Store) textSearch(query, projectID string, limit int) ([]*Document, error) {
	sqlQuery := "SELECT d.rowid, d.title, d.content, d.source, COALESCE(p.project_id, ''), bm25(documents) " +
		"FROM documents d LEFT JOIN document_projects p ON p.doc_id = d.rowid " +
		"WHERE documents MATCH ? "
	args := []interface{}{ftsQuery(query)}
	if projectID != "" {
		sqlQuery += "AND p.project_id = ? "
		args = append(args, projectID)
	}
	sqlQuery += "ORDER BY bm25(documents) LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocuments(rows, true)
}

func scanDocuments(rows *sql.Rows, withScore bool) ([]*Document, error) {
	docs := []*Document{}
	for rows.Next() {
		var d Document
		var err error
		if withScore {
			err = rows.Scan(&d.ID, &d.Title, &d.Content, &d.Source, &d.ProjectID, &d.Score)
		} else {
			err = rows.Scan(&d.ID, &d.Title, &d.Content, &d.Source, &d.ProjectID)
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

func ftsQuery(q string) string {
	fields := strings.Fields(q)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}
