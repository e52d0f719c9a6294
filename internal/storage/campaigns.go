package storage

import (
	"context"
	"time"

	"github.com/eventstreamhq/engine/internal/domain"
)

const campaignColumns = `id, name, topic, template_id, segment_id, status,
	rate_limit_per_second, quiet_hours_start, quiet_hours_end, schedule_time,
	created_at, updated_at`

// GetCampaign loads a campaign by id.
func (s *Store) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+campaignColumns+" FROM campaigns WHERE id = $1", id)
	var c domain.Campaign
	err := row.Scan(&c.ID, &c.Name, &c.Topic, &c.TemplateID, &c.SegmentID, &c.Status,
		&c.RateLimitPerSecond, &c.QuietHoursStart, &c.QuietHoursEnd, &c.ScheduleTime,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &c, nil
}

// ListDueCampaigns returns READY campaigns whose schedule time has
// elapsed (or was never set), ordered oldest first.
func (s *Store) ListDueCampaigns(ctx context.Context, now time.Time) ([]*domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = 'READY' AND (schedule_time IS NULL OR schedule_time <= $1)
		ORDER BY created_at`, now)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Topic, &c.TemplateID, &c.SegmentID, &c.Status,
			&c.RateLimitPerSecond, &c.QuietHoursStart, &c.QuietHoursEnd, &c.ScheduleTime,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// TransitionCampaign applies from → to conditionally. The WHERE clause
// on the current status is what makes concurrent schedulers safe: only
// one of them observes a row change. Illegal edges are rejected before
// touching the database; a lost race reports ErrNotFound.
func (s *Store) TransitionCampaign(ctx context.Context, id string, from, to domain.CampaignStatus) error {
	if !domain.CanTransition(from, to) {
		return ErrConflict
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTemplate loads a template by id.
func (s *Store) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, channel, locale, content, created_at, updated_at
		FROM templates WHERE id = $1`, id)
	var t domain.Template
	err := row.Scan(&t.ID, &t.Name, &t.Channel, &t.Locale, &t.Content, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

// GetSegment loads a segment by id.
func (s *Store) GetSegment(ctx context.Context, id string) (*domain.Segment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, predicate, created_at FROM segments WHERE id = $1`, id)
	var seg domain.Segment
	err := row.Scan(&seg.ID, &seg.Name, &seg.PredicateJSON, &seg.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &seg, nil
}
