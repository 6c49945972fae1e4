package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ZaynJarvis/newtab/internal/arc"
)

// ErrNotFound is returned when no page row matches the requested id or URL.
var ErrNotFound = errors.New("page not found")

// suppressThreshold is the visit count at which every counter in the store
// is halved. Halving preserves relative ordering.
const suppressThreshold = 1_000_000

// Page is a stored web page with its enrichment outputs and visit metrics.
type Page struct {
	ID            int64
	URL           string
	Title         string
	Description   string
	Keywords      string
	Content       string
	FaviconURL    string
	CreatedAt     time.Time
	Embedding     []float32
	VisitCount    int64
	FirstVisited  time.Time
	LastVisited   time.Time
	IndexedAt     time.Time
	LastUpdatedAt time.Time
	AccessFreq    float64
	RecencyScore  float64
	ARCScore      float64
}

// StoredVector pairs a page id with its persisted embedding.
type StoredVector struct {
	ID        int64
	Embedding []float32
}

// VisitCounters is what BumpVisit reports back to the caller.
type VisitCounters struct {
	VisitCount int64
	ARCScore   float64
}

// Distributions bucket the store for the eviction stats endpoint.
type Distributions struct {
	TotalPages int64
	Visit      map[string]int64
	Age        map[string]int64
	ARC        map[string]int64
}

// PageDB is the SQLite-backed document store. All mutations go through the
// pages table; FTS rows follow via triggers, so full-text state can never
// drift from the page row.
type PageDB struct {
	db *sql.DB
}

func NewPageDB(dbPath string) (*PageDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open page database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	pdb := &PageDB{db: db}
	if err := pdb.initSchema(); err != nil {
		return nil, err
	}
	return pdb, nil
}

func (pdb *PageDB) initSchema() error {
	_, err := pdb.db.Exec(Schema)
	return err
}

func (pdb *PageDB) Close() error {
	return pdb.db.Close()
}

const pageColumns = `id, url, title, description, keywords, content, favicon_url,
    created_at, vector_embedding, visit_count, first_visited, last_visited,
    indexed_at, last_updated_at, access_frequency, recency_score, arc_score`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPage(row rowScanner) (*Page, error) {
	var p Page
	var favicon, embedding sql.NullString
	var firstVisited, lastVisited, indexedAt, lastUpdatedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.URL, &p.Title, &p.Description, &p.Keywords, &p.Content,
		&favicon, &p.CreatedAt, &embedding, &p.VisitCount,
		&firstVisited, &lastVisited, &indexedAt, &lastUpdatedAt,
		&p.AccessFreq, &p.RecencyScore, &p.ARCScore,
	)
	if err != nil {
		return nil, err
	}

	p.FaviconURL = favicon.String
	if firstVisited.Valid {
		p.FirstVisited = firstVisited.Time
	}
	if lastVisited.Valid {
		p.LastVisited = lastVisited.Time
	}
	if indexedAt.Valid {
		p.IndexedAt = indexedAt.Time
	}
	if lastUpdatedAt.Valid {
		p.LastUpdatedAt = lastUpdatedAt.Time
	}
	if embedding.Valid && embedding.String != "" {
		// A corrupt embedding column degrades to no-embedding rather than
		// failing the read.
		var vec []float32
		if err := json.Unmarshal([]byte(embedding.String), &vec); err == nil && len(vec) > 0 {
			p.Embedding = vec
		}
	}
	return &p, nil
}

// Insert writes a brand-new page row and returns its id.
func (pdb *PageDB) Insert(p *Page, now time.Time) (int64, error) {
	result, err := pdb.db.Exec(`
		INSERT INTO pages (url, title, description, keywords, content, favicon_url,
			created_at, indexed_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.URL, p.Title, p.Description, p.Keywords, p.Content, nullableString(p.FaviconURL),
		now, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert page: %w", err)
	}
	return result.LastInsertId()
}

// UpsertByURL writes the page shell for an ingest: insert when the URL is
// new, otherwise refresh title/content/favicon and stamp last_updated_at.
// A unique-key race on insert falls back to the update path.
func (pdb *PageDB) UpsertByURL(p *Page, now time.Time) (int64, bool, error) {
	existing, err := pdb.GetByURL(p.URL)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, false, err
	}
	if existing != nil {
		if err := pdb.refreshShell(existing.ID, p, now); err != nil {
			return 0, false, err
		}
		return existing.ID, false, nil
	}

	id, err := pdb.Insert(p, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			// Lost the insert race; the other writer's row wins and this
			// ingest becomes a refresh.
			existing, gerr := pdb.GetByURL(p.URL)
			if gerr != nil {
				return 0, false, gerr
			}
			if uerr := pdb.refreshShell(existing.ID, p, now); uerr != nil {
				return 0, false, uerr
			}
			return existing.ID, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

func (pdb *PageDB) refreshShell(id int64, p *Page, now time.Time) error {
	_, err := pdb.db.Exec(`
		UPDATE pages
		SET title = ?, content = ?, favicon_url = ?, indexed_at = ?, last_updated_at = ?
		WHERE id = ?`,
		p.Title, p.Content, nullableString(p.FaviconURL), now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to refresh page %d: %w", id, err)
	}
	return nil
}

func (pdb *PageDB) GetByID(id int64) (*Page, error) {
	row := pdb.db.QueryRow("SELECT "+pageColumns+" FROM pages WHERE id = ?", id)
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (pdb *PageDB) GetByURL(url string) (*Page, error) {
	row := pdb.db.QueryRow("SELECT "+pageColumns+" FROM pages WHERE url = ?", url)
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// Delete removes the page row; the FTS entry follows via trigger.
func (pdb *PageDB) Delete(id int64) error {
	result, err := pdb.db.Exec("DELETE FROM pages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete page %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (pdb *PageDB) List(offset, limit int) ([]*Page, error) {
	rows, err := pdb.db.Query(`
		SELECT `+pageColumns+` FROM pages
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (pdb *PageDB) Count() (int64, error) {
	var count int64
	err := pdb.db.QueryRow("SELECT COUNT(*) FROM pages").Scan(&count)
	return count, err
}

// FullTextSearch runs an FTS5 prefix query over the indexed fields and
// returns pages best-first with the total match count. The caller derives
// rank positions from the slice order.
func (pdb *PageDB) FullTextSearch(query string, limit int) ([]*Page, int64, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, 0, nil
	}

	ftsQuery := `"` + strings.ReplaceAll(trimmed, `"`, `""`) + `"*`

	var total int64
	err := pdb.db.QueryRow(`
		SELECT COUNT(*) FROM pages_fts WHERE pages_fts MATCH ?`, ftsQuery,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("full-text count failed: %w", err)
	}

	rows, err := pdb.db.Query(`
		SELECT `+prefixColumns("p")+`
		FROM pages p
		JOIN pages_fts ON p.id = pages_fts.rowid
		WHERE pages_fts MATCH ?
		ORDER BY bm25(pages_fts)
		LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("full-text search failed: %w", err)
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, 0, err
		}
		pages = append(pages, p)
	}
	return pages, total, rows.Err()
}

func prefixColumns(alias string) string {
	cols := strings.Split(pageColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// FindOrCreateForTracking resolves a URL to a page id, creating a minimal
// placeholder row (title = url, empty content) when the URL was never
// ingested. The placeholder becomes a real page on its next ingest.
func (pdb *PageDB) FindOrCreateForTracking(url string, now time.Time) (int64, error) {
	var id int64
	err := pdb.db.QueryRow("SELECT id FROM pages WHERE url = ?", url).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	result, err := pdb.db.Exec(`
		INSERT INTO pages (url, title, content, created_at, indexed_at, last_updated_at)
		VALUES (?, ?, '', ?, ?, ?)`,
		url, url, now, now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			err = pdb.db.QueryRow("SELECT id FROM pages WHERE url = ?", url).Scan(&id)
			return id, err
		}
		return 0, fmt.Errorf("failed to create tracking row: %w", err)
	}
	return result.LastInsertId()
}

// BumpVisit increments a page's visit counter, stamps the visit time, and
// recomputes the derived scores in one transaction. Crossing the suppression
// threshold halves every counter in the store within the same transaction.
func (pdb *PageDB) BumpVisit(id int64, at time.Time) (*VisitCounters, error) {
	tx, err := pdb.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var visitCount int64
	var firstVisited sql.NullTime
	err = tx.QueryRow(`
		SELECT visit_count, first_visited FROM pages WHERE id = ?`, id,
	).Scan(&visitCount, &firstVisited)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	visitCount++
	first := at
	if firstVisited.Valid {
		first = firstVisited.Time
	}
	scores := arc.Compute(visitCount, first, at, at)

	_, err = tx.Exec(`
		UPDATE pages
		SET visit_count = ?,
		    first_visited = COALESCE(first_visited, ?),
		    last_visited = ?,
		    access_frequency = ?,
		    recency_score = ?,
		    arc_score = ?
		WHERE id = ?`,
		visitCount, at, at,
		scores.AccessFrequency, scores.RecencyScore, scores.ARCScore, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update visit metrics: %w", err)
	}

	if visitCount >= suppressThreshold {
		if err := suppressCounts(tx, at); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &VisitCounters{VisitCount: visitCount, ARCScore: scores.ARCScore}, nil
}

// SuppressAllCounts halves every visit counter and recomputes the derived
// scores in one transaction, independent of any visit. BumpVisit runs the
// same pass on its own when a counter reaches the threshold.
func (pdb *PageDB) SuppressAllCounts(now time.Time) error {
	tx, err := pdb.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := suppressCounts(tx, now); err != nil {
		return err
	}
	return tx.Commit()
}

func suppressCounts(tx *sql.Tx, now time.Time) error {
	if _, err := tx.Exec("UPDATE pages SET visit_count = visit_count / 2"); err != nil {
		return fmt.Errorf("count suppression failed: %w", err)
	}
	return recalcScores(tx, now)
}

// RecalcScores refreshes access_frequency/recency_score/arc_score for every
// visited page from its counters.
func (pdb *PageDB) RecalcScores(now time.Time) error {
	tx, err := pdb.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := recalcScores(tx, now); err != nil {
		return err
	}
	return tx.Commit()
}

func recalcScores(tx *sql.Tx, now time.Time) error {
	rows, err := tx.Query(`
		SELECT id, visit_count, first_visited, last_visited
		FROM pages WHERE visit_count > 0`)
	if err != nil {
		return err
	}

	type visited struct {
		id           int64
		count        int64
		first, last  sql.NullTime
	}
	var pages []visited
	for rows.Next() {
		var v visited
		if err := rows.Scan(&v.id, &v.count, &v.first, &v.last); err != nil {
			rows.Close()
			return err
		}
		pages = append(pages, v)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	stmt, err := tx.Prepare(`
		UPDATE pages
		SET access_frequency = ?, recency_score = ?, arc_score = ?
		WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, v := range pages {
		first, last := now, time.Time{}
		if v.first.Valid {
			first = v.first.Time
		}
		if v.last.Valid {
			last = v.last.Time
		}
		scores := arc.Compute(v.count, first, last, now)
		if _, err := stmt.Exec(scores.AccessFrequency, scores.RecencyScore, scores.ARCScore, v.id); err != nil {
			return err
		}
	}
	return nil
}

// UpdateKeywords writes enrichment text outputs, unless the row has been
// refreshed since the enrichment was scheduled.
func (pdb *PageDB) UpdateKeywords(id int64, description, keywords string, notAfter time.Time) (bool, error) {
	result, err := pdb.db.Exec(`
		UPDATE pages SET description = ?, keywords = ?
		WHERE id = ? AND (last_updated_at IS NULL OR last_updated_at <= ?)`,
		description, keywords, id, notAfter,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update keywords for page %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// UpdateEmbedding persists the embedding JSON, with the same stale-write
// guard as UpdateKeywords.
func (pdb *PageDB) UpdateEmbedding(id int64, embedding []float32, notAfter time.Time) (bool, error) {
	data, err := json.Marshal(embedding)
	if err != nil {
		return false, err
	}
	result, err := pdb.db.Exec(`
		UPDATE pages SET vector_embedding = ?
		WHERE id = ? AND (last_updated_at IS NULL OR last_updated_at <= ?)`,
		string(data), id, notAfter,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update embedding for page %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// GetEmbedding returns the stored embedding for a page, nil when the page
// has none.
func (pdb *PageDB) GetEmbedding(id int64) ([]float32, error) {
	var embedding sql.NullString
	err := pdb.db.QueryRow("SELECT vector_embedding FROM pages WHERE id = ?", id).Scan(&embedding)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !embedding.Valid || embedding.String == "" {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(embedding.String), &vec); err != nil {
		return nil, nil
	}
	return vec, nil
}

// AllEmbeddings streams every stored embedding, used to rebuild the vector
// index at startup. Corrupt rows are skipped.
func (pdb *PageDB) AllEmbeddings() ([]StoredVector, error) {
	rows, err := pdb.db.Query(`
		SELECT id, vector_embedding FROM pages WHERE vector_embedding IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vectors []StoredVector
	for rows.Next() {
		var id int64
		var data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		var vec []float32
		if err := json.Unmarshal([]byte(data), &vec); err != nil || len(vec) == 0 {
			continue
		}
		vectors = append(vectors, StoredVector{ID: id, Embedding: vec})
	}
	return vectors, rows.Err()
}

// VisitMeta returns the visit metadata the eviction policy ranks on.
func (pdb *PageDB) VisitMeta() ([]arc.PageStats, error) {
	rows, err := pdb.db.Query(`
		SELECT id, url, title, visit_count, last_visited, arc_score
		FROM pages ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []arc.PageStats
	for rows.Next() {
		var s arc.PageStats
		var lastVisited sql.NullTime
		if err := rows.Scan(&s.ID, &s.URL, &s.Title, &s.VisitCount, &lastVisited, &s.ARCScore); err != nil {
			return nil, err
		}
		if lastVisited.Valid {
			s.LastVisited = lastVisited.Time
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// TopVisited returns visited pages ordered by arc_score, for analytics.
func (pdb *PageDB) TopVisited(limit int) ([]*Page, error) {
	rows, err := pdb.db.Query(`
		SELECT `+pageColumns+` FROM pages
		WHERE visit_count > 0
		ORDER BY arc_score DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// EvictionDistributions buckets the store by visit count, age, and ARC
// score for the eviction stats endpoint.
func (pdb *PageDB) EvictionDistributions() (*Distributions, error) {
	d := &Distributions{
		Visit: make(map[string]int64),
		Age:   make(map[string]int64),
		ARC:   make(map[string]int64),
	}

	if err := pdb.db.QueryRow("SELECT COUNT(*) FROM pages").Scan(&d.TotalPages); err != nil {
		return nil, err
	}

	if err := pdb.bucketQuery(`
		SELECT CASE
			WHEN visit_count = 0 THEN 'never_visited'
			WHEN visit_count <= 2 THEN 'low_visits'
			WHEN visit_count <= 10 THEN 'medium_visits'
			ELSE 'high_visits'
		END AS category, COUNT(*) FROM pages GROUP BY category`, d.Visit); err != nil {
		return nil, err
	}

	if err := pdb.bucketQuery(`
		SELECT CASE
			WHEN last_visited IS NULL THEN 'never_visited'
			WHEN julianday('now') - julianday(last_visited) <= 7 THEN 'recent'
			WHEN julianday('now') - julianday(last_visited) <= 30 THEN 'medium_age'
			WHEN julianday('now') - julianday(last_visited) <= 90 THEN 'old'
			ELSE 'very_old'
		END AS category, COUNT(*) FROM pages GROUP BY category`, d.Age); err != nil {
		return nil, err
	}

	if err := pdb.bucketQuery(`
		SELECT CASE
			WHEN arc_score = 0.0 THEN 'no_score'
			WHEN arc_score <= 0.2 THEN 'low_relevance'
			WHEN arc_score <= 0.5 THEN 'medium_relevance'
			ELSE 'high_relevance'
		END AS category, COUNT(*) FROM pages GROUP BY category`, d.ARC); err != nil {
		return nil, err
	}

	return d, nil
}

func (pdb *PageDB) bucketQuery(query string, into map[string]int64) error {
	rows, err := pdb.db.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return err
		}
		into[category] = count
	}
	return rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
