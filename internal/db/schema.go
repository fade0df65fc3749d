package db

// Timestamps are stored as millisecond-precision UTC text so that
// created_at sorts lexically and survives the TEXT affinity of the
// modernc driver.
const schema = `
CREATE TABLE IF NOT EXISTS playbook_sections (
    id           TEXT PRIMARY KEY,
    name         TEXT UNIQUE NOT NULL,
    display_name TEXT NOT NULL,
    description  TEXT,
    ordering     INTEGER NOT NULL DEFAULT 0,
    metadata     TEXT NOT NULL DEFAULT '{}',
    created_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
    updated_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_sections_ordering ON playbook_sections(ordering, name);

CREATE TABLE IF NOT EXISTS playbook_bullets (
    id            TEXT PRIMARY KEY,
    bullet_id     TEXT UNIQUE NOT NULL,
    section_id    TEXT NOT NULL REFERENCES playbook_sections(id) ON DELETE CASCADE,
    content       TEXT NOT NULL,
    helpful_count INTEGER NOT NULL DEFAULT 0 CHECK(helpful_count >= 0),
    harmful_count INTEGER NOT NULL DEFAULT 0 CHECK(harmful_count >= 0),
    metadata      TEXT NOT NULL DEFAULT '{}',
    created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
    updated_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_bullets_section_created ON playbook_bullets(section_id, created_at);

CREATE TABLE IF NOT EXISTS playbook_revisions (
    id          TEXT PRIMARY KEY,
    operations  TEXT NOT NULL DEFAULT '[]',
    description TEXT,
    applied_by  TEXT,
    metadata    TEXT NOT NULL DEFAULT '{}',
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_revisions_created ON playbook_revisions(created_at);
`
