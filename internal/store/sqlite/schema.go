package sqlite

// Schema creates every table used by the engram store if it does not already
// exist. Table names follow the "engram" naming used throughout dedup.py and
// evaluator.py (the glossary's sole vocabulary), not the earlier "lessons"
// naming db.py started from.
const Schema = `
CREATE TABLE IF NOT EXISTS engrams (
    id INTEGER PRIMARY KEY,
    text TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT 'general',
    level1 TEXT,
    level2 TEXT,
    level3 TEXT,
    source TEXT DEFAULT 'manual',
    source_sessions TEXT DEFAULT '[]',
    occurrence_count INTEGER DEFAULT 1,
    times_matched INTEGER DEFAULT 0,
    last_matched TEXT,
    created_at TEXT,
    updated_at TEXT,
    deprecated INTEGER DEFAULT 0,
    prerequisites TEXT DEFAULT NULL,
    pinned INTEGER DEFAULT 0,
    auto_pinned INTEGER DEFAULT 0,
    dedup_verified INTEGER DEFAULT 0,
    merged_into INTEGER,
    merge_run_id TEXT,
    merge_reason TEXT,
    merge_confidence REAL,
    dedup_errors TEXT DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS categories (
    path TEXT PRIMARY KEY,
    description TEXT
);

CREATE INDEX IF NOT EXISTS idx_engrams_category ON engrams(category);
CREATE INDEX IF NOT EXISTS idx_engrams_level1 ON engrams(level1);
CREATE INDEX IF NOT EXISTS idx_engrams_deprecated ON engrams(deprecated);
CREATE INDEX IF NOT EXISTS idx_engrams_dedup_verified ON engrams(dedup_verified);

CREATE TABLE IF NOT EXISTS engram_categories (
    engram_id INTEGER NOT NULL,
    category_path TEXT NOT NULL,
    PRIMARY KEY (engram_id, category_path),
    FOREIGN KEY (engram_id) REFERENCES engrams(id)
);

CREATE TABLE IF NOT EXISTS engram_repo_stats (
    engram_id INTEGER NOT NULL,
    repo TEXT NOT NULL,
    times_matched INTEGER DEFAULT 0,
    last_matched TEXT,
    PRIMARY KEY (engram_id, repo),
    FOREIGN KEY (engram_id) REFERENCES engrams(id)
);

CREATE TABLE IF NOT EXISTS engram_tag_stats (
    engram_id INTEGER NOT NULL,
    tag_set TEXT NOT NULL,
    times_matched INTEGER DEFAULT 0,
    last_matched TEXT,
    PRIMARY KEY (engram_id, tag_set),
    FOREIGN KEY (engram_id) REFERENCES engrams(id)
);

CREATE TABLE IF NOT EXISTS engram_tag_relevance (
    engram_id INTEGER NOT NULL,
    tag TEXT NOT NULL,
    ema REAL DEFAULT 0,
    positive_evals INTEGER DEFAULT 0,
    negative_evals INTEGER DEFAULT 0,
    PRIMARY KEY (engram_id, tag),
    FOREIGN KEY (engram_id) REFERENCES engrams(id)
);

CREATE TABLE IF NOT EXISTS session_audit (
    session_id TEXT PRIMARY KEY,
    repo TEXT,
    env_tags TEXT DEFAULT '[]',
    shown_engram_ids TEXT DEFAULT '[]',
    transcript_path TEXT,
    status TEXT DEFAULT 'pending',
    retry_count INTEGER DEFAULT 0,
    created_at TEXT
);

CREATE TABLE IF NOT EXISTS shown_engrams (
    session_id TEXT NOT NULL,
    engram_id INTEGER NOT NULL,
    hook_event TEXT,
    shown_at TEXT,
    PRIMARY KEY (session_id, engram_id)
);

CREATE TABLE IF NOT EXISTS processed_extraction_sessions (
    session_id TEXT PRIMARY KEY,
    processed_at TEXT,
    had_friction INTEGER DEFAULT 0,
    engrams_extracted INTEGER DEFAULT 0
);
`
