package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventstreamhq/engine/internal/domain"
)

func setupTestDB(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.ErrorIs(t, classify(sql.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, classify(&pq.Error{Code: "23505"}), ErrConflict)
	assert.ErrorIs(t, classify(&pq.Error{Code: "40001"}), ErrTransient)
	assert.ErrorIs(t, classify(&pq.Error{Code: "40P01"}), ErrTransient)

	other := errors.New("boom")
	assert.Equal(t, other, classify(other))
	assert.True(t, IsTransient(&pq.Error{Code: "40001"}))
	assert.False(t, IsTransient(other))
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return errors.New("permanent")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRetriesTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &pq.Error{Code: "40001"}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestUpsertUserPassesConsentEngineFlag(t *testing.T) {
	s, mock := setupTestDB(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "+14155550001", []byte(`{"name":"Ada"}`), "OPT_IN", true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "phone_e164", "attributes", "consent_state", "created_at", "updated_at"}).
			AddRow("u1", "+14155550001", []byte(`{"name":"Ada"}`), "OPT_IN", now, now))

	u, err := s.UpsertUser(context.Background(), "+14155550001", map[string]string{"name": "Ada"}, domain.ConsentOptIn, true)
	require.NoError(t, err)
	assert.Equal(t, "+14155550001", u.PhoneE164)
	assert.Equal(t, domain.ConsentOptIn, u.ConsentState)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByPhoneNotFound(t *testing.T) {
	s, mock := setupTestDB(t)

	mock.ExpectQuery("SELECT .+ FROM users").
		WithArgs("+14155550099").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetUserByPhone(context.Background(), "+14155550099")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	s, mock := setupTestDB(t)

	// ON CONFLICT DO NOTHING: a duplicate subscription affects no rows
	// and is still a success.
	mock.ExpectExec("INSERT INTO subscriptions").
		WithArgs(sqlmock.AnyArg(), "u1", "promos").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Subscribe(context.Background(), "u1", "promos"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountUsersByConsent(t *testing.T) {
	s, mock := setupTestDB(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("STOP").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.CountUsersByConsent(context.Background(), domain.ConsentStop)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestCreateMessageIfAbsentCreates(t *testing.T) {
	s, mock := setupTestDB(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(sqlmock.AnyArg(), "c1", "+14155550001", "t1", "Hi Ada", "whatsapp", "QUEUED").
		WillReturnRows(messageRows().
			AddRow("m1", "c1", "+14155550001", "t1", "Hi Ada", "whatsapp", "QUEUED", nil, nil, nil, now, nil, nil))

	m, created, err := s.CreateMessageIfAbsent(context.Background(), &domain.Message{
		CampaignID:     "c1",
		RecipientPhone: "+14155550001",
		TemplateID:     "t1",
		Content:        "Hi Ada",
		Channel:        "whatsapp",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, domain.MessageQueued, m.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMessageIfAbsentDuplicate(t *testing.T) {
	s, mock := setupTestDB(t)
	now := time.Now()

	// Conflict: the insert returns no row, then the existing row is read.
	mock.ExpectQuery("INSERT INTO messages").
		WillReturnRows(messageRows())
	mock.ExpectQuery("SELECT .+ FROM messages").
		WithArgs("c1", "+14155550001").
		WillReturnRows(messageRows().
			AddRow("m1", "c1", "+14155550001", "t1", "Hi Ada", "whatsapp", "SENT", "SM1", nil, nil, now, now, nil))

	m, created, err := s.CreateMessageIfAbsent(context.Background(), &domain.Message{
		CampaignID:     "c1",
		RecipientPhone: "+14155550001",
		TemplateID:     "t1",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, domain.MessageSent, m.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionCampaign(t *testing.T) {
	s, mock := setupTestDB(t)

	mock.ExpectExec("UPDATE campaigns SET status").
		WithArgs("RUNNING", "c1", "READY").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.TransitionCampaign(context.Background(), "c1", domain.CampaignReady, domain.CampaignRunning)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionCampaignLostRace(t *testing.T) {
	s, mock := setupTestDB(t)

	mock.ExpectExec("UPDATE campaigns SET status").
		WithArgs("RUNNING", "c1", "READY").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.TransitionCampaign(context.Background(), "c1", domain.CampaignReady, domain.CampaignRunning)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionCampaignIllegalEdge(t *testing.T) {
	s, _ := setupTestDB(t)
	err := s.TransitionCampaign(context.Background(), "c1", domain.CampaignCompleted, domain.CampaignRunning)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMarkMessageSentGuardsStatus(t *testing.T) {
	s, mock := setupTestDB(t)

	mock.ExpectExec("UPDATE messages SET status = 'SENT'").
		WithArgs("m1", "SM123").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkMessageSent(context.Background(), "m1", "SM123")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s, mock := setupTestDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO inbound_events").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return InsertInboundEvent(context.Background(), tx, &domain.InboundEvent{
			FromPhone: "+14155550001",
			Channel:   "sms",
			Body:      "hello",
		})
	})
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func messageRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "campaign_id", "recipient_phone", "template_id", "content", "channel",
		"status", "provider_sid", "error_code", "error_message", "created_at", "sent_at", "delivered_at",
	})
}
