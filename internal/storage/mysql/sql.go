package mysql

const insertRunSQL = `
INSERT INTO snapshot_runs
  (lang, kind, ok, regions, provinces, municipalities, error, started_at, duration_ms)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// One row per (lang, level, parent); repeats only bump the counter.
const upsertMissSQL = `
INSERT INTO snapshot_misses (lang, level, parent_id, reason)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  reason  = VALUES(reason),
  hits    = snapshot_misses.hits + 1,
  seen_at = CURRENT_TIMESTAMP
`

// Latest run per language, newest id wins on equal start times.
const lastRunsSQL = `
SELECT r.lang, r.kind, r.ok, r.regions, r.provinces, r.municipalities, r.error, r.started_at, r.duration_ms
FROM snapshot_runs r
JOIN (
  SELECT lang, MAX(id) AS id FROM snapshot_runs GROUP BY lang
) last ON last.id = r.id
ORDER BY r.lang
`
