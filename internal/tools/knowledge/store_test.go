package knowledge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mnemo-mcp/mnemo/internal/cache"
	"github.com/mnemo-mcp/mnemo/internal/vectorstore"
)

type fakeIndex struct {
	ensureErr   error
	upsertErr   error
	searchErr   error
	hits        []vectorstore.ScoredPoint
	points      []vectorstore.Point
	searchCalls int
}

func (f *fakeIndex) EnsureCollection(ctx context.Context, name string) error {
	return f.ensureErr
}

func (f *fakeIndex) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.points = append(f.points, points...)
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, collection string, vector []float32, limit int) ([]vectorstore.ScoredPoint, error) {
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits, nil
}

func newTestStore(t *testing.T) (*Store, *fakeIndex) {
	t.Helper()
	idx := &fakeIndex{}
	s, err := Open(filepath.Join(t.TempDir(), "knowledge.db"), cache.New(), idx, "docs")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, idx
}

func TestAddAndTextSearch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, "Deploy runbook", "How to deploy the gateway service", "wiki/deploy", "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(ctx, "Oncall guide", "Escalation paths and rotations", "wiki/oncall", "", nil); err != nil {
		t.Fatal(err)
	}

	docs, err := s.Search(ctx, SearchParams{Query: "deploy gateway"})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 result, got %d", len(docs))
	}
	if docs[0].Title != "Deploy runbook" {
		t.Errorf("unexpected result: %+v", docs[0])
	}
}

func TestIDsAreMonotonic(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.Add(ctx, "one", "first body", "", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Add(ctx, "two", "second body", "", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID <= first.ID {
		t.Errorf("ids not increasing: %d then %d", first.ID, second.ID)
	}
}

func TestAddWithVectorWritesPoint(t *testing.T) {
	s, idx := newTestStore(t)
	ctx := context.Background()

	doc, err := s.Add(ctx, "Embedded", "vectorized body", "src", "proj-a", []float32{0.1, 0.2})
	if err != nil {
		t.Fatal(err)
	}

	if len(idx.points) != 1 {
		t.Fatalf("expected 1 upserted point, got %d", len(idx.points))
	}
	p := idx.points[0]
	if p.ID != doc.ID {
		t.Errorf("point id %d does not match document id %d", p.ID, doc.ID)
	}
	if p.Payload["title"] != "Embedded" || p.Payload["project_id"] != "proj-a" {
		t.Errorf("unexpected payload: %+v", p.Payload)
	}
}

func TestVectorFailureRollsBackDocument(t *testing.T) {
	s, idx := newTestStore(t)
	ctx := context.Background()
	idx.upsertErr = errors.New("qdrant unavailable")

	_, err := s.Add(ctx, "Doomed", "never persisted", "", "proj-a", []float32{0.5})
	if err == nil {
		t.Fatal("expected add to fail")
	}
	if !errors.Is(err, idx.upsertErr) {
		t.Errorf("expected original upsert error, got %v", err)
	}

	docs, err := s.Search(ctx, SearchParams{Query: "Doomed"})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Errorf("rolled-back document still searchable: %+v", docs)
	}

	scoped, err := s.Search(ctx, SearchParams{ProjectID: "proj-a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 0 {
		t.Errorf("rolled-back project scoping still present: %+v", scoped)
	}
}

func TestEnsureCollectionFailureRollsBack(t *testing.T) {
	s, idx := newTestStore(t)
	ctx := context.Background()
	idx.ensureErr = errors.New("cannot create collection")

	if _, err := s.Add(ctx, "Doomed too", "body", "", "", []float32{0.5}); err == nil {
		t.Fatal("expected add to fail")
	}

	docs, err := s.Search(ctx, SearchParams{Query: "Doomed"})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Errorf("rolled-back document still searchable: %+v", docs)
	}
}

func TestProjectScopedTextSearch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, "Shared term", "alpha release notes", "", "proj-a", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(ctx, "Shared term", "alpha release notes", "", "proj-b", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(ctx, "Global doc", "alpha everywhere", "", "", nil); err != nil {
		t.Fatal(err)
	}

	docs, err := s.Search(ctx, SearchParams{Query: "alpha", ProjectID: "proj-a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ProjectID != "proj-a" {
		t.Errorf("expected only proj-a document, got %+v", docs)
	}
}

func TestEmptyQueryReturnsNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"oldest", "middle", "newest"} {
		if _, err := s.Add(ctx, title, "body of "+title, "", "", nil); err != nil {
			t.Fatal(err)
		}
	}

	docs, err := s.Search(ctx, SearchParams{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 results, got %d", len(docs))
	}
	if docs[0].Title != "newest" || docs[1].Title != "middle" {
		t.Errorf("unexpected order: %q, %q", docs[0].Title, docs[1].Title)
	}
}

func TestVectorSearchBackfillsFromLocalIndex(t *testing.T) {
	s, idx := newTestStore(t)
	ctx := context.Background()

	doc, err := s.Add(ctx, "Sparse payload", "full local body", "local/src", "proj-a", []float32{0.3})
	if err != nil {
		t.Fatal(err)
	}

	// The hit carries only the id, as if the point had been written
	// without a payload.
	idx.hits = []vectorstore.ScoredPoint{{ID: doc.ID, Score: 0.88}}

	docs, err := s.Search(ctx, SearchParams{Vector: []float32{0.3}})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 result, got %d", len(docs))
	}
	got := docs[0]
	if got.Title != "Sparse payload" || got.Content != "full local body" || got.Source != "local/src" {
		t.Errorf("backfill incomplete: %+v", got)
	}
	if got.Score != 0.88 {
		t.Errorf("score lost in backfill: %v", got.Score)
	}
}

func TestVectorSearchFiltersByProject(t *testing.T) {
	s, idx := newTestStore(t)
	ctx := context.Background()

	idx.hits = []vectorstore.ScoredPoint{
		{ID: 1, Score: 0.9, Payload: map[string]any{"title": "A", "content": "a", "project_id": "proj-a"}},
		{ID: 2, Score: 0.8, Payload: map[string]any{"title": "B", "content": "b", "project_id": "proj-b"}},
	}

	docs, err := s.Search(ctx, SearchParams{Vector: []float32{0.1}, ProjectID: "proj-a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Title != "A" {
		t.Errorf("expected only proj-a hit, got %+v", docs)
	}
}

func TestVectorSearchErrorSurfaced(t *testing.T) {
	s, idx := newTestStore(t)
	idx.searchErr = errors.New("connection refused")

	_, err := s.Search(context.Background(), SearchParams{Vector: []float32{0.1}})
	if err == nil {
		t.Fatal("expected error from failing vector index")
	}
	if idx.searchCalls < 2 {
		t.Errorf("expected the search to be retried, got %d calls", idx.searchCalls)
	}
}

func TestAddInvalidatesCachedSearch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, "first", "cached body", "", "", nil); err != nil {
		t.Fatal(err)
	}
	docs, err := s.Search(ctx, SearchParams{Query: "cached"})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 result, got %d", len(docs))
	}

	if _, err := s.Add(ctx, "second", "cached body again", "", "", nil); err != nil {
		t.Fatal(err)
	}
	docs, err = s.Search(ctx, SearchParams{Query: "cached"})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Errorf("stale cache after add: got %d results", len(docs))
	}
}
