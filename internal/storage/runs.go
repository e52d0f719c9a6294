package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/eventstreamhq/engine/internal/domain"
)

// InsertCampaignRun records the start of an orchestrator execution.
func (s *Store) InsertCampaignRun(ctx context.Context, run *domain.CampaignRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_runs (id, campaign_id, job_id, dry_run, started_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		run.ID, run.CampaignID, run.JobID, run.DryRun)
	return classify(err)
}

// FinishCampaignRun persists the final counters of a run.
func (s *Store) FinishCampaignRun(ctx context.Context, run *domain.CampaignRun) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_runs SET
			total_recipients = $2, sent = $3, failed = $4,
			skipped_opt_out = $5, skipped_quiet_hours = $6, skipped_rate_limit = $7,
			skipped_invalid_phone = $8, skipped_missing_template_data = $9, skipped_duplicate = $10,
			errors = $11, finished_at = NOW()
		WHERE id = $1`,
		run.ID, run.TotalRecipients, run.Sent, run.Failed,
		run.SkippedOptOut, run.SkippedQuiet, run.SkippedRate,
		run.SkippedPhone, run.SkippedRender, run.SkippedDup,
		run.Errors)
	if err != nil {
		return classify(err)
	}
	return requireRow(res)
}

// ListCampaignRuns returns the run history for one campaign, newest
// first.
func (s *Store) ListCampaignRuns(ctx context.Context, campaignID string, limit int) ([]*domain.CampaignRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, job_id, dry_run, total_recipients, sent, failed,
			skipped_opt_out, skipped_quiet_hours, skipped_rate_limit,
			skipped_invalid_phone, skipped_missing_template_data, skipped_duplicate,
			errors, started_at, finished_at
		FROM campaign_runs
		WHERE campaign_id = $1
		ORDER BY started_at DESC
		LIMIT $2`, campaignID, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*domain.CampaignRun
	for rows.Next() {
		var r domain.CampaignRun
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.JobID, &r.DryRun, &r.TotalRecipients, &r.Sent, &r.Failed,
			&r.SkippedOptOut, &r.SkippedQuiet, &r.SkippedRate,
			&r.SkippedPhone, &r.SkippedRender, &r.SkippedDup,
			&r.Errors, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
