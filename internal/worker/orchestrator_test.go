package worker

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventstreamhq/engine/internal/provider"
	"github.com/eventstreamhq/engine/internal/storage"
)

func setupOrchestrator(t *testing.T) (*Orchestrator, sqlmock.Sqlmock, *provider.CaptureSender, *miniredis.Miniredis) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	sender := provider.NewCaptureSender()
	o := NewOrchestrator(storage.New(db), sender, &memQueue{}, client, 1)
	o.sleep = func(time.Duration) {}
	return o, mock, sender, mr
}

func expectCampaign(mock sqlmock.Sqlmock, id, status string) {
	rows := sqlmock.NewRows([]string{
		"id", "name", "topic", "template_id", "segment_id", "status",
		"rate_limit_per_second", "quiet_hours_start", "quiet_hours_end", "schedule_time",
		"created_at", "updated_at",
	}).AddRow(id, "august promo", "", "t1", nil, status, 10, nil, nil, nil, time.Now(), time.Now())
	mock.ExpectQuery("FROM campaigns WHERE id").WithArgs(id).WillReturnRows(rows)
}

func expectTemplate(mock sqlmock.Sqlmock, content string) {
	rows := sqlmock.NewRows([]string{"id", "name", "channel", "locale", "content", "created_at", "updated_at"}).
		AddRow("t1", "greeting", "sms", "en", content, time.Now(), time.Now())
	mock.ExpectQuery("FROM templates WHERE id").WithArgs("t1").WillReturnRows(rows)
}

func audienceRows(users ...[2]string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "phone_e164", "attributes", "consent_state", "created_at", "updated_at"})
	for i, u := range users {
		rows.AddRow(string(rune('a'+i)), u[0], []byte(u[1]), "OPT_IN", time.Now(), time.Now())
	}
	return rows
}

func queuedMessageRow(id, phone, content string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "campaign_id", "recipient_phone", "template_id", "content", "channel",
		"status", "provider_sid", "error_code", "error_message", "created_at", "sent_at", "delivered_at",
	}).AddRow(id, "c1", phone, "t1", content, "sms", "QUEUED", nil, nil, nil, time.Now(), nil, nil)
}

func TestProcessDispatchesAndCompletes(t *testing.T) {
	o, mock, sender, _ := setupOrchestrator(t)

	expectCampaign(mock, "c1", "RUNNING")
	mock.ExpectExec("INSERT INTO campaign_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectTemplate(mock, "Hi {name}")
	// Second recipient has no name attribute and is skipped at render.
	mock.ExpectQuery("FROM users u WHERE u.consent_state = \\$1 ORDER BY u.phone_e164").
		WithArgs("OPT_IN").
		WillReturnRows(audienceRows(
			[2]string{"+14155550001", `{"name":"Ada"}`},
			[2]string{"+14155550002", `{}`},
		))
	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(sqlmock.AnyArg(), "c1", "+14155550001", "t1", "Hi Ada", "sms", "QUEUED").
		WillReturnRows(queuedMessageRow("m1", "+14155550001", "Hi Ada"))
	mock.ExpectExec("UPDATE messages SET status = 'SENT'").
		WithArgs("m1", "SM0001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaign_runs SET").
		WithArgs(sqlmock.AnyArg(), 2, 1, 0, 0, 0, 0, 0, 1, 0, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns SET status").
		WithArgs("COMPLETED", "c1", "RUNNING").
		WillReturnResult(sqlmock.NewResult(0, 1))

	o.Process(context.Background(), &CampaignJob{JobID: "j1", CampaignID: "c1"})

	require.Len(t, sender.Calls, 1)
	assert.Equal(t, "+14155550001", sender.Calls[0].To)
	assert.Equal(t, "Hi Ada", sender.Calls[0].Content)
	assert.Equal(t, "sms", sender.Calls[0].Channel)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDryRunTouchesNothing(t *testing.T) {
	o, mock, sender, mr := setupOrchestrator(t)

	expectCampaign(mock, "c1", "RUNNING")
	mock.ExpectExec("INSERT INTO campaign_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectTemplate(mock, "Hi {name}")
	mock.ExpectQuery("FROM users u WHERE").
		WithArgs("OPT_IN").
		WillReturnRows(audienceRows([2]string{"+14155550001", `{"name":"Ada"}`}))
	// No message insert, no dispatch, no status transition: the only
	// trace is the run record.
	mock.ExpectExec("UPDATE campaign_runs SET").
		WithArgs(sqlmock.AnyArg(), 1, 1, 0, 0, 0, 0, 0, 0, 0, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	o.Process(context.Background(), &CampaignJob{JobID: "j2", CampaignID: "c1", DryRun: true})

	assert.Empty(t, sender.Calls)
	// The preview must not consume admission tokens that would throttle
	// a concurrent live run.
	for _, key := range mr.Keys() {
		assert.NotContains(t, key, "rate_limit", "dry run consumed a rate-limit token")
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessReplaySkipsExistingRecipient(t *testing.T) {
	o, mock, sender, _ := setupOrchestrator(t)

	expectCampaign(mock, "c1", "RUNNING")
	mock.ExpectExec("INSERT INTO campaign_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectTemplate(mock, "Hi {name}")
	mock.ExpectQuery("FROM users u WHERE").
		WithArgs("OPT_IN").
		WillReturnRows(audienceRows([2]string{"+14155550001", `{"name":"Ada"}`}))
	// Conflict: the insert returns nothing, the follow-up select finds
	// the message from the earlier run.
	empty := sqlmock.NewRows([]string{
		"id", "campaign_id", "recipient_phone", "template_id", "content", "channel",
		"status", "provider_sid", "error_code", "error_message", "created_at", "sent_at", "delivered_at",
	})
	mock.ExpectQuery("INSERT INTO messages").
		WillReturnRows(empty)
	mock.ExpectQuery("SELECT .+ FROM messages\\s+WHERE campaign_id = \\$1 AND recipient_phone = \\$2").
		WithArgs("c1", "+14155550001").
		WillReturnRows(queuedMessageRow("m1", "+14155550001", "Hi Ada"))
	mock.ExpectExec("UPDATE campaign_runs SET").
		WithArgs(sqlmock.AnyArg(), 1, 0, 0, 0, 0, 0, 0, 0, 1, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns SET status").
		WithArgs("COMPLETED", "c1", "RUNNING").
		WillReturnResult(sqlmock.NewResult(0, 1))

	o.Process(context.Background(), &CampaignJob{JobID: "j3", CampaignID: "c1"})

	assert.Empty(t, sender.Calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessGatewayRejectionMarksFailed(t *testing.T) {
	o, mock, sender, _ := setupOrchestrator(t)
	sender.FailWith = &provider.SendResult{
		Success:      false,
		ErrorCode:    "21211",
		ErrorMessage: "Invalid 'To' Phone Number",
	}

	expectCampaign(mock, "c1", "RUNNING")
	mock.ExpectExec("INSERT INTO campaign_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectTemplate(mock, "Hi {name}")
	mock.ExpectQuery("FROM users u WHERE").
		WithArgs("OPT_IN").
		WillReturnRows(audienceRows([2]string{"+14155550001", `{"name":"Ada"}`}))
	mock.ExpectQuery("INSERT INTO messages").
		WillReturnRows(queuedMessageRow("m1", "+14155550001", "Hi Ada"))
	mock.ExpectExec("UPDATE messages SET status = 'FAILED'").
		WithArgs("m1", "21211", "Invalid 'To' Phone Number").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaign_runs SET").
		WithArgs(sqlmock.AnyArg(), 1, 0, 1, 0, 0, 0, 0, 0, 0, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns SET status").
		WithArgs("COMPLETED", "c1", "RUNNING").
		WillReturnResult(sqlmock.NewResult(0, 1))

	o.Process(context.Background(), &CampaignJob{JobID: "j4", CampaignID: "c1"})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDropsJobForNonRunningCampaign(t *testing.T) {
	o, mock, sender, _ := setupOrchestrator(t)

	expectCampaign(mock, "c1", "PAUSED")

	o.Process(context.Background(), &CampaignJob{JobID: "j5", CampaignID: "c1"})

	assert.Empty(t, sender.Calls)
	require.NoError(t, mock.ExpectationsWereMet())
}
