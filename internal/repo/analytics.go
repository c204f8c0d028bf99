package repo

import (
	"context"
	"database/sql"
	"time"

	"chaseline/internal/domain"
)

// CountByStatus returns item counts grouped by lifecycle status.
func (r Repo) CountByStatus(ctx context.Context) (map[domain.ChaseStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM chase_items GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[domain.ChaseStatus]int{}
	for rows.Next() {
		var status domain.ChaseStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CompletedSince counts items that reached received or completed at or after
// the cutoff.
func (r Repo) CompletedSince(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chase_items WHERE status IN ('received','completed') AND resolved_at>=?`,
		formatTime(cutoff)).Scan(&n)
	return n, err
}

// AvgCompletionDays averages created-to-resolved latency over resolved items.
// Returns 0 when nothing has resolved yet.
func (r Repo) AvgCompletionDays(ctx context.Context) (float64, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT created_at, resolved_at FROM chase_items WHERE status IN ('received','completed') AND resolved_at IS NOT NULL`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var total float64
	var n int
	for rows.Next() {
		var created, resolved string
		if err := rows.Scan(&created, &resolved); err != nil {
			return 0, err
		}
		total += parseTime(resolved).Sub(parseTime(created)).Hours() / 24
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return total / float64(n), nil
}

// HighRiskCount counts non-terminal items at or above the given risk score.
func (r Repo) HighRiskCount(ctx context.Context, threshold float64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chase_items WHERE risk_score>=? AND status NOT IN ('received','completed','failed')`,
		threshold).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}
