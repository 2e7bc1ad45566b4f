package sqlite

const schema = `
-- Raw event-name mentions (read-only input from upstream extraction)
CREATE TABLE IF NOT EXISTS raw_mentions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    country TEXT NOT NULL,
    date TEXT NOT NULL,
    document_id TEXT NOT NULL,
    event_name TEXT NOT NULL,
    source_name TEXT NOT NULL DEFAULT '',
    UNIQUE(country, date, document_id, event_name)
);

CREATE INDEX IF NOT EXISTS idx_raw_mentions_country_date ON raw_mentions(country, date);

-- Same-day clusters of raw mentions
CREATE TABLE IF NOT EXISTS event_clusters (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    country TEXT NOT NULL,
    date TEXT NOT NULL,
    batch_num INTEGER NOT NULL DEFAULT 0,
    label INTEGER NOT NULL DEFAULT 0,
    representative TEXT NOT NULL,
    member_names TEXT NOT NULL,
    document_ids TEXT NOT NULL,
    source_names TEXT NOT NULL DEFAULT '[]',
    centroid TEXT,
    noise INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'unprocessed' CHECK(status IN ('unprocessed', 'validated')),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_event_clusters_country_date ON event_clusters(country, date);
CREATE INDEX IF NOT EXISTS idx_event_clusters_status ON event_clusters(status);

-- Deduplicated canonical events. master_id is a nullable self-link:
-- NULL means the event is a master; the chain never exceeds depth 1.
CREATE TABLE IF NOT EXISTS canonical_events (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    alt_names TEXT NOT NULL DEFAULT '[]',
    country TEXT NOT NULL,
    first_date TEXT NOT NULL,
    last_date TEXT NOT NULL,
    mention_days INTEGER NOT NULL DEFAULT 0,
    total_documents INTEGER NOT NULL DEFAULT 0,
    embedding TEXT,
    master_id TEXT REFERENCES canonical_events(id) ON DELETE SET NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_canonical_events_country ON canonical_events(country);
CREATE INDEX IF NOT EXISTS idx_canonical_events_master ON canonical_events(master_id);

-- Per-date evidence rows. The UNIQUE constraint backs the
-- at-most-one-mention-per-date postcondition of mention merge.
CREATE TABLE IF NOT EXISTS daily_mentions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL REFERENCES canonical_events(id) ON DELETE CASCADE,
    date TEXT NOT NULL,
    document_ids TEXT NOT NULL,
    document_count INTEGER NOT NULL DEFAULT 0,
    headline TEXT NOT NULL DEFAULT '',
    source_names TEXT NOT NULL DEFAULT '[]',
    source_diversity REAL NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(event_id, date)
);

CREATE INDEX IF NOT EXISTS idx_daily_mentions_event ON daily_mentions(event_id);
CREATE INDEX IF NOT EXISTS idx_daily_mentions_date ON daily_mentions(date);
`
