package memory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mnemo-mcp/mnemo/internal/cache"
	"github.com/mnemo-mcp/mnemo/internal/logger"
)

var log = logger.ForComponent("memory")

var ErrNotFound = errors.New("entry not found")

// timeFormat is fixed-width so lexicographic order on the stored strings
// matches chronological order.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// purgeInterval throttles the lazy expiry purge per project.
const purgeInterval = 60 * time.Second

type Store struct {
	db    *sql.DB
	cache *cache.QueryCache
	mu    sync.RWMutex

	purgeMu   sync.Mutex
	lastPurge map[string]time.Time

	now func() time.Time
}

func Open(dbPath string, qc *cache.QueryCache) (*Store, error) {
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

	s := &Store{
		db:        db,
		cache:     qc,
		lastPurge: make(map[string]time.Time),
		now:       time.Now,
	}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL DEFAULT 'default',
		scope TEXT NOT NULL DEFAULT 'default',
		content TEXT NOT NULL,
		tags TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		expires_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_entries_project ON entries(project_id);
	CREATE INDEX IF NOT EXISTS idx_entries_project_created ON entries(project_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_entries_expires ON entries(expires_at);

	CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(content, tags, entry_id UNINDEXED);
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

func (s *Store) Create(projectID, content, scope string, tags []string, expiresAt *time.Time) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if scope == "" {
		scope = "default"
	}
	if tags == nil {
		tags = []string{}
	}

	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	entry := &Entry{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Scope:     scope,
		Content:   content,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: expiresAt,
	}

	_, err = s.db.Exec(
		"INSERT INTO entries (id, project_id, scope, content, tags, created_at, updated_at, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		entry.ID, projectID, scope, content, string(tagsJSON),
		now.Format(timeFormat), now.Format(timeFormat), formatExpiry(expiresAt),
	)
	if err != nil {
		return nil, err
	}

	s.syncShadowIndex(entry.ID, content, tags)
	s.cache.Clear()

	return entry, nil
}

// syncShadowIndex keeps the full-text table in step with the primary row.
// The sync is best-effort: on failure the entry is still readable through
// the substring fallback, so the error is only logged.
func (s *Store) syncShadowIndex(id, content string, tags []string) {
	if _, err := s.db.Exec("DELETE FROM entries_fts WHERE entry_id = ?", id); err != nil {
		log.Warn("shadow index delete failed", "id", id, "error", err)
		return
	}
	_, err := s.db.Exec(
		"INSERT INTO entries_fts (content, tags, entry_id) VALUES (?, ?, ?)",
		content, strings.Join(tags, " "), id,
	)
	if err != nil {
		log.Warn("shadow index insert failed", "id", id, "error", err)
	}
}

// purgeExpired removes rows whose expires_at has passed for the project.
// Throttled to once per purgeInterval per project to bound cost.
func (s *Store) purgeExpired(projectID string) {
	now := s.now().UTC()

	s.purgeMu.Lock()
	if last, ok := s.lastPurge[projectID]; ok && now.Sub(last) < purgeInterval {
		s.purgeMu.Unlock()
		return
	}
	s.lastPurge[projectID] = now
	s.purgeMu.Unlock()

	rows, err := s.db.Query(
		"SELECT id FROM entries WHERE project_id = ? AND expires_at IS NOT NULL AND expires_at != '' AND expires_at <= ?",
		projectID, now.Format(timeFormat),
	)
	if err != nil {
		log.Warn("expiry scan failed", "project_id", projectID, "error", err)
		return
	}

	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			expired = append(expired, id)
		}
	}
	rows.Close()

	if len(expired) == 0 {
		return
	}

	for _, id := range expired {
		if _, err := s.db.Exec("DELETE FROM entries WHERE id = ?", id); err != nil {
			log.Warn("expiry delete failed", "id", id, "error", err)
			continue
		}
		if _, err := s.db.Exec("DELETE FROM entries_fts WHERE entry_id = ?", id); err != nil {
			log.Warn("shadow index delete failed", "id", id, "error", err)
		}
	}

	log.Debug("purged expired entries", "project_id", projectID, "count", len(expired))
	s.cache.Clear()
}

func (s *Store) Search(p SearchParams) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Scope == "" {
		p.Scope = "default"
	}
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 5
	}

	s.purgeExpired(p.ProjectID)

	key := cache.Key("memory_search", p)
	if cached, ok := s.cache.Get(key); ok {
		return cached.([]*Entry), nil
	}

	var results []*Entry
	var err error

	switch {
	case p.Query == "" && p.Tag == "":
		results, err = s.recent(p.ProjectID, p.Scope, p.Limit)
	case p.Query == "":
		results, err = s.byTag(p.ProjectID, p.Scope, p.Tag, p.Limit)
	default:
		results, err = s.textSearch(p)
	}
	if err != nil {
		return nil, err
	}

	s.cache.Set(key, results)
	return results, nil
}

const entryColumns = "id, project_id, scope, content, tags, created_at, updated_at, expires_at"

func (s *Store) recent(projectID, scope string, limit int) ([]*Entry, error) {
	rows, err := s.db.Query(
		"SELECT "+entryColumns+" FROM entries WHERE project_id = ? AND scope = ? AND "+notExpired+" ORDER BY created_at DESC, rowid DESC LIMIT ?",
		projectID, scope, s.now().UTC().Format(timeFormat), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) byTag(projectID, scope, tag string, limit int) ([]*Entry, error) {
	rows, err := s.db.Query(
		"SELECT "+entryColumns+" FROM entries WHERE project_id = ? AND scope = ? AND "+notExpired+" ORDER BY created_at DESC, rowid DESC",
		projectID, scope, s.now().UTC().Format(timeFormat),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	all, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	results := make([]*Entry, 0, limit)
	for _, e := range all {
		if hasTag(e, tag) {
			results = append(results, e)
			if len(results) == limit {
				break
			}
		}
	}
	return results, nil
}

func (s *Store) textSearch(p SearchParams) ([]*Entry, error) {
	var results []*Entry
	var err error

	if p.UseFTS {
		results, err = s.ftsSearch(p)
		if err != nil {
			// Shadow index may have drifted; the substring scan reads
			// only the primary table.
			log.Warn("ranked search failed, falling back to substring scan", "error", err)
			results, err = s.substringSearch(p)
		}
	} else {
		results, err = s.substringSearch(p)
	}
	if err != nil {
		return nil, err
	}

	if p.Tag == "" {
		return results, nil
	}
	filtered := make([]*Entry, 0, len(results))
	for _, e := range results {
		if hasTag(e, p.Tag) {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// ftsSearch ranks matches by bm25 cost, ascending: lower is more relevant.
func (s *Store) ftsSearch(p SearchParams) ([]*Entry, error) {
	rows, err := s.db.Query(
		"SELECT e.id, e.project_id, e.scope, e.content, e.tags, e.created_at, e.updated_at, e.expires_at "+
			"FROM entries_fts f JOIN entries e ON e.id = f.entry_id "+
			"WHERE entries_fts MATCH ? AND e.project_id = ? AND e.scope = ? "+
			"AND (e.expires_at IS NULL OR e.expires_at = '' OR e.expires_at > ?) "+
			"ORDER BY bm25(entries_fts) LIMIT ?",
		ftsQuery(p.Query), p.ProjectID, p.Scope, s.now().UTC().Format(timeFormat), p.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) substringSearch(p SearchParams) ([]*Entry, error) {
	rows, err := s.db.Query(
		"SELECT "+entryColumns+" FROM entries WHERE project_id = ? AND scope = ? AND "+notExpired+" ORDER BY created_at DESC, rowid DESC",
		p.ProjectID, p.Scope, s.now().UTC().Format(timeFormat),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	all, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(p.Query)
	results := make([]*Entry, 0, p.Limit)
	for _, e := range all {
		if matchesSubstring(e, needle) {
			results = append(results, e)
			if len(results) == p.Limit {
				break
			}
		}
	}
	return results, nil
}

func (s *Store) List(p ListParams) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p.Limit < 1 || p.Limit > 500 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	now := s.now().UTC().Format(timeFormat)

	where := "project_id = ? AND " + notExpired
	args := []interface{}{p.ProjectID, now}
	if p.Scope != "" {
		where += " AND scope = ?"
		args = append(args, p.Scope)
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM entries WHERE "+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		"SELECT "+entryColumns+" FROM entries WHERE "+where+" ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		append(args, p.Limit, p.Offset)...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	return &Page{
		TotalCount: total,
		Offset:     p.Offset,
		Limit:      p.Limit,
		HasMore:    p.Offset+len(entries) < total,
		Entries:    entries,
	}, nil
}

// Update applies a partial update: nil fields keep their prior values.
// An expiresAt of "" clears the expiry.
func (s *Store) Update(id, projectID string, content *string, tags *[]string, expiresAt *string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.get(id, projectID)
	if err != nil {
		return nil, err
	}

	if content != nil {
		existing.Content = *content
	}
	if tags != nil {
		existing.Tags = *tags
	}
	if expiresAt != nil {
		if *expiresAt == "" {
			existing.ExpiresAt = nil
		} else {
			t, err := time.Parse(time.RFC3339, *expiresAt)
			if err != nil {
				return nil, fmt.Errorf("invalid expires_at: %w", err)
			}
			utc := t.UTC()
			existing.ExpiresAt = &utc
		}
	}
	existing.UpdatedAt = s.now().UTC()

	tagsJSON, err := json.Marshal(existing.Tags)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(
		"UPDATE entries SET content = ?, tags = ?, updated_at = ?, expires_at = ? WHERE id = ? AND project_id = ?",
		existing.Content, string(tagsJSON), existing.UpdatedAt.Format(timeFormat),
		formatExpiry(existing.ExpiresAt), id, projectID,
	)
	if err != nil {
		return nil, err
	}

	s.syncShadowIndex(id, existing.Content, existing.Tags)
	s.cache.Clear()

	return existing, nil
}

// Delete is idempotent: deleting an absent id reports deleted=false
// rather than failing.
func (s *Store) Delete(id, projectID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM entries WHERE id = ? AND project_id = ?", id, projectID)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return false, nil
	}

	if _, err := s.db.Exec("DELETE FROM entries_fts WHERE entry_id = ?", id); err != nil {
		log.Warn("shadow index delete failed", "id", id, "error", err)
	}
	s.cache.Clear()

	return true, nil
}

func (s *Store) get(id, projectID string) (*Entry, error) {
	row := s.db.QueryRow(
		"SELECT "+entryColumns+" FROM entries WHERE id = ? AND project_id = ?",
		id, projectID,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entry, err
}

const notExpired = "(expires_at IS NULL OR expires_at = '' OR expires_at > ?)"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var tagsJSON sql.NullString
	var createdAt, updatedAt string
	var expiresAt sql.NullString

	if err := row.Scan(&e.ID, &e.ProjectID, &e.Scope, &e.Content, &tagsJSON, &createdAt, &updatedAt, &expiresAt); err != nil {
		return nil, err
	}

	e.Tags = []string{}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &e.Tags); err != nil {
			e.Tags = []string{}
		}
	}

	var err error
	if e.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at for %s: %w", e.ID, err)
	}
	if e.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("corrupt updated_at for %s: %w", e.ID, err)
	}
	if expiresAt.Valid && expiresAt.String != "" {
		t, err := time.Parse(timeFormat, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt expires_at for %s: %w", e.ID, err)
		}
		e.ExpiresAt = &t
	}

	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if entries == nil {
		entries = []*Entry{}
	}
	return entries, rows.Err()
}

func hasTag(e *Entry, tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func matchesSubstring(e *Entry, needle string) bool {
	if strings.Contains(strings.ToLower(e.Content), needle) {
		return true
	}
	for _, t := range e.Tags {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}

// ftsQuery tokenizes the user query into quoted terms so FTS5 operators
// in the input cannot break the MATCH expression.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

func formatExpiry(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}
