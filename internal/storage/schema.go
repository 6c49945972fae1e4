package storage

const Schema = `
-- Pages: every web page the user has visited and indexed
CREATE TABLE IF NOT EXISTS pages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    keywords TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    favicon_url TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    vector_embedding TEXT,            -- JSON array of floats, NULL until enriched
    visit_count INTEGER DEFAULT 0,
    first_visited DATETIME,
    last_visited DATETIME,
    indexed_at DATETIME,
    last_updated_at DATETIME,
    access_frequency REAL DEFAULT 0.0,
    recency_score REAL DEFAULT 0.0,
    arc_score REAL DEFAULT 0.0
);

-- Full-text index over the searchable fields
CREATE VIRTUAL TABLE IF NOT EXISTS pages_fts USING fts5(
    title, description, keywords, content
);

-- Triggers keep the FTS table in sync with the pages table, so every write
-- path updates both inside one transaction
CREATE TRIGGER IF NOT EXISTS pages_fts_insert AFTER INSERT ON pages BEGIN
    INSERT INTO pages_fts(rowid, title, description, keywords, content)
    VALUES (new.id, new.title, new.description, new.keywords, new.content);
END;

CREATE TRIGGER IF NOT EXISTS pages_fts_update AFTER UPDATE ON pages BEGIN
    UPDATE pages_fts SET
        title = new.title,
        description = new.description,
        keywords = new.keywords,
        content = new.content
    WHERE rowid = new.id;
END;

CREATE TRIGGER IF NOT EXISTS pages_fts_delete AFTER DELETE ON pages BEGIN
    DELETE FROM pages_fts WHERE rowid = old.id;
END;

CREATE INDEX IF NOT EXISTS idx_pages_visit_tracking
    ON pages(visit_count, last_visited, arc_score);
CREATE INDEX IF NOT EXISTS idx_pages_arc_score ON pages(arc_score DESC);
CREATE INDEX IF NOT EXISTS idx_pages_last_updated ON pages(last_updated_at);
`
