package store

// Schema is the DDL for the telemetry tables.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    origin      TEXT NOT NULL DEFAULT '',
    layout      INTEGER NOT NULL DEFAULT 0,
    state       TEXT NOT NULL DEFAULT 'active',
    created_at  INTEGER NOT NULL,
    ended_at    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at DESC);

CREATE TABLE IF NOT EXISTS snapshots (
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL,
    seq         INTEGER NOT NULL,
    layout      INTEGER NOT NULL,
    created_at  INTEGER NOT NULL,
    closed_at   INTEGER NOT NULL,
    vector      TEXT NOT NULL,
    snapshot    TEXT NOT NULL DEFAULT '{}',
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id, seq);

CREATE TABLE IF NOT EXISTS classifications (
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL,
    seq         INTEGER NOT NULL,
    label       TEXT NOT NULL,
    scores      TEXT NOT NULL DEFAULT '[]',
    window_size INTEGER NOT NULL,
    at          INTEGER NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_classifications_session ON classifications(session_id, seq);
CREATE INDEX IF NOT EXISTS idx_classifications_label ON classifications(label);
`
