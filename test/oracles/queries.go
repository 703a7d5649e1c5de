package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that returns rows only when an invariant is broken.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_scrap_cascades_to_equipment",
			SQL: `SELECT r.id, r.equipment_id FROM maintenance_requests r
JOIN equipment e ON e.id = r.equipment_id
WHERE r.status = 'SCRAP' AND e.status <> 'SCRAPPED'`,
		},
		{
			Name: "O2_repaired_has_duration",
			SQL: `SELECT id FROM maintenance_requests
WHERE status = 'REPAIRED' AND (duration_minutes IS NULL OR duration_minutes <= 0)`,
		},
		{
			Name: "O3_lifecycle_timestamps",
			SQL: `SELECT id, status, started_at, completed_at FROM maintenance_requests
WHERE (status IN ('REPAIRED', 'SCRAP') AND completed_at IS NULL)
   OR (status = 'NEW' AND completed_at IS NOT NULL)
   OR (status IN ('IN_PROGRESS', 'REPAIRED') AND started_at IS NULL)`,
		},
		{
			Name: "O4_technician_is_team_member",
			SQL: `SELECT r.id, r.technician_id FROM maintenance_requests r
WHERE r.technician_id IS NOT NULL AND NOT EXISTS (
    SELECT 1 FROM team_members m JOIN users u ON u.id = m.user_id
    WHERE m.team_id = r.team_id AND m.user_id = r.technician_id AND u.role = 'TECHNICIAN')`,
		},
		{
			Name: "O5_one_created_log",
			SQL: `SELECT r.id, COUNT(l.id) FROM maintenance_requests r
LEFT JOIN request_logs l ON l.request_id = r.id AND l.action = 'CREATED'
GROUP BY r.id HAVING COUNT(l.id) <> 1`,
		},
		{
			Name: "O6_status_log_matches_row",
			SQL: `WITH last AS (
    SELECT DISTINCT ON (request_id) request_id, details->>'to' AS "to"
    FROM request_logs WHERE action = 'STATUS_CHANGED'
    ORDER BY request_id, id DESC)
SELECT r.id, r.status, last."to" FROM maintenance_requests r
LEFT JOIN last ON last.request_id = r.id
WHERE COALESCE(last."to", 'NEW') <> r.status`,
		},
		{
			Name: "O7_no_change_after_terminal",
			SQL: `SELECT request_id, COUNT(*) FROM request_logs
WHERE action = 'STATUS_CHANGED'
GROUP BY request_id
HAVING COUNT(*) > 2 OR COUNT(*) FILTER (WHERE details->>'from' IN ('REPAIRED', 'SCRAP')) > 0`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
