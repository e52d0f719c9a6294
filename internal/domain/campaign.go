package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignReady     CampaignStatus = "READY"
	CampaignRunning   CampaignStatus = "RUNNING"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignFailed    CampaignStatus = "FAILED"
)

// campaignEdges is the set of allowed status transitions. FAILED is
// terminal except for the operator reset back to READY.
var campaignEdges = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:   {CampaignReady},
	CampaignReady:   {CampaignRunning},
	CampaignRunning: {CampaignCompleted, CampaignPaused, CampaignFailed},
	CampaignPaused:  {CampaignRunning, CampaignFailed},
	CampaignFailed:  {CampaignReady},
}

// CanTransition reports whether from → to is an allowed campaign edge.
func CanTransition(from, to CampaignStatus) bool {
	for _, next := range campaignEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Campaign binds a topic, template, and optional segment to scheduling
// and throttling rules.
type Campaign struct {
	ID                 string         `json:"id" db:"id"`
	Name               string         `json:"name" db:"name"`
	Topic              string         `json:"topic" db:"topic"`
	TemplateID         string         `json:"template_id" db:"template_id"`
	SegmentID          *string        `json:"segment_id" db:"segment_id"`
	Status             CampaignStatus `json:"status" db:"status"`
	RateLimitPerSecond int            `json:"rate_limit_per_second" db:"rate_limit_per_second"`
	QuietHoursStart    *string        `json:"quiet_hours_start" db:"quiet_hours_start"`
	QuietHoursEnd      *string        `json:"quiet_hours_end" db:"quiet_hours_end"`
	ScheduleTime       *time.Time     `json:"schedule_time" db:"schedule_time"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
// FAILED counts as terminal even though an operator may reset it.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignFailed
}

// HasQuietHours reports whether the campaign defines a quiet-hours window.
func (c *Campaign) HasQuietHours() bool {
	return c.QuietHoursStart != nil && c.QuietHoursEnd != nil
}

// CampaignRun is the audit record of one orchestrator execution.
type CampaignRun struct {
	ID              string     `json:"id" db:"id"`
	CampaignID      string     `json:"campaign_id" db:"campaign_id"`
	JobID           string     `json:"job_id" db:"job_id"`
	DryRun          bool       `json:"dry_run" db:"dry_run"`
	TotalRecipients int        `json:"total_recipients" db:"total_recipients"`
	Sent            int        `json:"sent" db:"sent"`
	Failed          int        `json:"failed" db:"failed"`
	SkippedOptOut   int        `json:"skipped_opt_out" db:"skipped_opt_out"`
	SkippedQuiet    int        `json:"skipped_quiet_hours" db:"skipped_quiet_hours"`
	SkippedRate     int        `json:"skipped_rate_limit" db:"skipped_rate_limit"`
	SkippedPhone    int        `json:"skipped_invalid_phone" db:"skipped_invalid_phone"`
	SkippedRender   int        `json:"skipped_missing_template_data" db:"skipped_missing_template_data"`
	SkippedDup      int        `json:"skipped_duplicate" db:"skipped_duplicate"`
	Errors          int        `json:"errors" db:"errors"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at" db:"finished_at"`
}
