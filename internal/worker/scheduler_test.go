package worker

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventstreamhq/engine/internal/storage"
)

// memQueue is an in-memory JobQueue for scheduler tests.
type memQueue struct {
	jobs    []*CampaignJob
	failing bool
}

func (m *memQueue) Enqueue(_ context.Context, job *CampaignJob) error {
	if m.failing {
		return assert.AnError
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *memQueue) Dequeue(_ context.Context, _ time.Duration) (*CampaignJob, error) {
	if len(m.jobs) == 0 {
		return nil, ErrQueueEmpty
	}
	job := m.jobs[0]
	m.jobs = m.jobs[1:]
	return job, nil
}

func campaignRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "name", "topic", "template_id", "segment_id", "status",
		"rate_limit_per_second", "quiet_hours_start", "quiet_hours_end", "schedule_time",
		"created_at", "updated_at",
	})
	for _, id := range ids {
		rows.AddRow(id, "promo "+id, "promos", "t1", nil, "READY", 10, nil, nil, nil, time.Now(), time.Now())
	}
	return rows
}

func setupScheduler(t *testing.T, queue JobQueue) (*Scheduler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewScheduler(storage.New(db), queue, time.Second), mock
}

func TestSweepPromotesAndEnqueues(t *testing.T) {
	queue := &memQueue{}
	s, mock := setupScheduler(t, queue)

	mock.ExpectQuery("FROM campaigns\\s+WHERE status = 'READY'").
		WillReturnRows(campaignRows("c1", "c2"))
	mock.ExpectExec("UPDATE campaigns SET status").
		WithArgs("RUNNING", "c1", "READY").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns SET status").
		WithArgs("RUNNING", "c2", "READY").
		WillReturnResult(sqlmock.NewResult(0, 1))

	started, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, started)
	require.Len(t, queue.jobs, 2)
	assert.Equal(t, "c1", queue.jobs[0].CampaignID)
	assert.NotEmpty(t, queue.jobs[0].JobID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepSkipsLostClaimRace(t *testing.T) {
	queue := &memQueue{}
	s, mock := setupScheduler(t, queue)

	mock.ExpectQuery("FROM campaigns\\s+WHERE status = 'READY'").
		WillReturnRows(campaignRows("c1"))
	// Another replica already flipped the row.
	mock.ExpectExec("UPDATE campaigns SET status").
		WithArgs("RUNNING", "c1", "READY").
		WillReturnResult(sqlmock.NewResult(0, 0))

	started, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, started)
	assert.Empty(t, queue.jobs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepParksCampaignWhenEnqueueFails(t *testing.T) {
	queue := &memQueue{failing: true}
	s, mock := setupScheduler(t, queue)

	mock.ExpectQuery("FROM campaigns\\s+WHERE status = 'READY'").
		WillReturnRows(campaignRows("c1"))
	mock.ExpectExec("UPDATE campaigns SET status").
		WithArgs("RUNNING", "c1", "READY").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns SET status").
		WithArgs("FAILED", "c1", "RUNNING").
		WillReturnResult(sqlmock.NewResult(0, 1))

	started, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, started)
	require.NoError(t, mock.ExpectationsWereMet())
}
