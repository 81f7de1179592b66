package shield

// Schema creates the shield tables and seeds the limits of the two query
// endpoints, each of which starts a browser:
//   - rate_limits: per-endpoint rules, keyed "METHOD /path"
//   - maintenance: the single-row maintenance flag
//
// Statements are idempotent; seeded rows are never overwritten.
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    endpoint       TEXT PRIMARY KEY,
    max_requests   INTEGER NOT NULL DEFAULT 60,
    window_seconds INTEGER NOT NULL DEFAULT 60,
    enabled        INTEGER NOT NULL DEFAULT 1
);

INSERT OR IGNORE INTO rate_limits (endpoint, max_requests, window_seconds, enabled)
VALUES ('GET /check', 10, 60, 1),
       ('POST /api/verify-agent-license', 30, 60, 1);

CREATE TABLE IF NOT EXISTS maintenance (
    id      INTEGER PRIMARY KEY CHECK (id = 1),
    active  INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT '系統維護中，請稍後再試。'
);

INSERT OR IGNORE INTO maintenance (id, active, message)
VALUES (1, 0, '系統維護中，請稍後再試。');
`
