package storage

import (
	"context"
	"time"

	"github.com/lib/pq"
)

// ErrorCodeCount is one entry of a top-error-codes breakdown.
type ErrorCodeCount struct {
	ErrorCode string `json:"error_code"`
	Count     int    `json:"count"`
}

// TopErrorCodes returns the most frequent failure codes for a
// campaign, restricted to the given terminal statuses.
func (s *Store) TopErrorCodes(ctx context.Context, campaignID string, statuses []string, limit int) ([]ErrorCodeCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT error_code, COUNT(*) AS n FROM messages
		WHERE campaign_id = $1 AND status = ANY($2) AND error_code IS NOT NULL
		GROUP BY error_code
		ORDER BY n DESC
		LIMIT $3`, campaignID, pq.Array(statuses), limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []ErrorCodeCount
	for rows.Next() {
		var e ErrorCodeCount
		if err := rows.Scan(&e.ErrorCode, &e.Count); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DashboardStats is the operator-facing snapshot of engine health.
type DashboardStats struct {
	ActiveCampaigns int     `json:"active_campaigns"`
	OptedOutUsers   int     `json:"opted_out_users"`
	Sent24h         int     `json:"sent_24h"`
	Delivered24h    int     `json:"delivered_24h"`
	DeliveryRate    float64 `json:"delivery_rate"`
}

// GetDashboardStats aggregates the monitoring dashboard counters.
func (s *Store) GetDashboardStats(ctx context.Context, now time.Time) (*DashboardStats, error) {
	var stats DashboardStats
	since := now.Add(-24 * time.Hour)

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM campaigns WHERE status = ANY($1)`,
		pq.Array([]string{"READY", "RUNNING", "PAUSED"})).Scan(&stats.ActiveCampaigns)
	if err != nil {
		return nil, classify(err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users WHERE consent_state = ANY($1)`,
		pq.Array([]string{"OPT_OUT", "STOP"})).Scan(&stats.OptedOutUsers)
	if err != nil {
		return nil, classify(err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE sent_at >= $1),
			COUNT(*) FILTER (WHERE delivered_at >= $1)
		FROM messages`, since).Scan(&stats.Sent24h, &stats.Delivered24h)
	if err != nil {
		return nil, classify(err)
	}

	var sent, delivered int
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE sent_at IS NOT NULL),
			COUNT(*) FILTER (WHERE status IN ('DELIVERED', 'READ'))
		FROM messages`).Scan(&sent, &delivered)
	if err != nil {
		return nil, classify(err)
	}
	if sent > 0 {
		stats.DeliveryRate = float64(delivered) / float64(sent)
	}
	return &stats, nil
}

// RecentFailure is a recent message failure for the dashboard.
type RecentFailure struct {
	MessageID    string    `json:"message_id"`
	CampaignID   string    `json:"campaign_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListRecentFailures returns the newest failed messages.
func (s *Store) ListRecentFailures(ctx context.Context, limit int) ([]RecentFailure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, COALESCE(error_code, ''), COALESCE(error_message, ''), created_at
		FROM messages
		WHERE status = ANY($1)
		ORDER BY created_at DESC
		LIMIT $2`, pq.Array([]string{"FAILED", "UNDELIVERED"}), limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []RecentFailure
	for rows.Next() {
		var f RecentFailure
		if err := rows.Scan(&f.MessageID, &f.CampaignID, &f.ErrorCode, &f.ErrorMessage, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
