package scheduler_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"eventcrafter/internal/logger"
	"eventcrafter/internal/models"
	"eventcrafter/internal/scheduler"
	schedulerdb "eventcrafter/internal/scheduler/db"
)

// recordingDispatcher captures fired jobs so tests can wait for them.
type recordingDispatcher struct {
	mu        sync.Mutex
	reminders []models.ScheduledJob
	cleanups  []models.ScheduledJob
	fired     chan models.JobKind
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{fired: make(chan models.JobKind, 16)}
}

func (d *recordingDispatcher) RunReminder(job models.ScheduledJob) error {
	d.mu.Lock()
	d.reminders = append(d.reminders, job)
	d.mu.Unlock()
	d.fired <- job.Kind
	return nil
}

func (d *recordingDispatcher) RunCleanup(job models.ScheduledJob) error {
	d.mu.Lock()
	d.cleanups = append(d.cleanups, job)
	d.mu.Unlock()
	d.fired <- job.Kind
	return nil
}

func (d *recordingDispatcher) reminderCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reminders)
}

func (d *recordingDispatcher) cleanupCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cleanups)
}

func setupScheduler(t *testing.T) (*scheduler.SchedulerService, *schedulerdb.DB, *recordingDispatcher) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	_, err = bunDB.NewCreateTable().Model((*models.ScheduledJob)(nil)).Exec(context.Background())
	require.NoError(t, err)

	store := &schedulerdb.DB{Bun: bunDB}
	dispatcher := newRecordingDispatcher()

	service := scheduler.NewSchedulerService(store, dispatcher, logger.NewLogger(), time.UTC, 24*time.Hour, 15*time.Minute)
	t.Cleanup(service.Stop)

	return service, store, dispatcher
}

func testEvent(fireAt time.Time) models.Event {
	return models.Event{
		ID:          uuid.New().String(),
		Description: "Board game night",
		Date:        fireAt.Format(models.DateLayout),
		Time:        fireAt.Format(models.TimeLayout),
		CreatorID:   "creator1",
		ChatID:      "chat1",
	}
}

func TestScheduleArmsThreeJobsWithOffsets(t *testing.T) {
	service, store, _ := setupScheduler(t)

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	service.Now = func() time.Time { return now }

	fireAt := time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC)
	event := testEvent(fireAt)

	armed, err := service.Schedule(event)
	require.NoError(t, err)
	assert.Len(t, armed, 3)

	jobs, err := store.GetJobsByEvent(event.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	// fire_at ascending: day reminder, minutes reminder, cleanup.
	assert.Equal(t, models.JobReminderDay, jobs[0].Kind)
	assert.True(t, jobs[0].FireAt.Equal(fireAt.Add(-24*time.Hour)))
	assert.Equal(t, models.JobReminderMinutes, jobs[1].Kind)
	assert.True(t, jobs[1].FireAt.Equal(fireAt.Add(-15*time.Minute)))
	assert.Equal(t, models.JobCleanup, jobs[2].Kind)
	assert.True(t, jobs[2].FireAt.Equal(fireAt))

	for _, job := range jobs {
		assert.Equal(t, event.ID, job.EventID)
		assert.Equal(t, "chat1", job.ChatID)
	}
}

func TestSchedulePastReminderOffsetsSkipped(t *testing.T) {
	service, store, _ := setupScheduler(t)

	// 10 minutes to go: both reminder offsets already passed.
	now := time.Date(2025, 6, 1, 18, 50, 0, 0, time.UTC)
	service.Now = func() time.Time { return now }

	event := testEvent(time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC))

	armed, err := service.Schedule(event)
	require.NoError(t, err)
	assert.Len(t, armed, 1)

	jobs, err := store.GetJobsByEvent(event.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobCleanup, jobs[0].Kind)
}

func TestScheduleDayOffsetPassedMinutesRemain(t *testing.T) {
	service, store, _ := setupScheduler(t)

	// 2 hours to go: the day reminder is gone, the minutes reminder is not.
	now := time.Date(2025, 6, 1, 17, 0, 0, 0, time.UTC)
	service.Now = func() time.Time { return now }

	event := testEvent(time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC))

	armed, err := service.Schedule(event)
	require.NoError(t, err)
	assert.Len(t, armed, 2)

	jobs, err := store.GetJobsByEvent(event.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, models.JobReminderMinutes, jobs[0].Kind)
	assert.Equal(t, models.JobCleanup, jobs[1].Kind)
}

func TestRescheduleLeavesExactlyThreeRows(t *testing.T) {
	service, store, _ := setupScheduler(t)

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	service.Now = func() time.Time { return now }

	event := testEvent(time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC))
	_, err := service.Schedule(event)
	require.NoError(t, err)

	require.NoError(t, service.CancelAll(event.ID))

	event.Date = "15.06.2025"
	_, err = service.Schedule(event)
	require.NoError(t, err)

	jobs, err := store.GetJobsByEvent(event.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	newFire := time.Date(2025, 6, 15, 19, 0, 0, 0, time.UTC)
	assert.True(t, jobs[2].FireAt.Equal(newFire))
}

func TestCancelAllStopsArmedTimer(t *testing.T) {
	service, store, dispatcher := setupScheduler(t)

	job := models.ScheduledJob{
		ID:      uuid.New().String(),
		EventID: "event1",
		Kind:    models.JobReminderMinutes,
		ChatID:  "chat1",
		FireAt:  time.Now().Add(30 * time.Millisecond),
	}
	require.NoError(t, store.CreateJob(job))
	require.NoError(t, service.Recover())

	require.NoError(t, service.CancelAll("event1"))

	select {
	case <-dispatcher.fired:
		t.Fatal("cancelled job still fired")
	case <-time.After(100 * time.Millisecond):
	}

	jobs, err := store.GetJobsByEvent("event1")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRecoverArmsFutureJobAtAbsoluteMoment(t *testing.T) {
	service, store, dispatcher := setupScheduler(t)

	job := models.ScheduledJob{
		ID:      uuid.New().String(),
		EventID: "event1",
		Kind:    models.JobReminderMinutes,
		ChatID:  "chat1",
		FireAt:  time.Now().Add(50 * time.Millisecond),
	}
	require.NoError(t, store.CreateJob(job))

	require.NoError(t, service.Recover())

	select {
	case kind := <-dispatcher.fired:
		assert.Equal(t, models.JobReminderMinutes, kind)
	case <-time.After(2 * time.Second):
		t.Fatal("recovered job never fired")
	}

	// The fired row is gone.
	jobs, err := store.GetJobsByEvent("event1")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRecoverDropsStaleReminderFiresStaleCleanup(t *testing.T) {
	service, store, dispatcher := setupScheduler(t)

	past := time.Now().Add(-time.Hour)
	staleReminder := models.ScheduledJob{
		ID:      uuid.New().String(),
		EventID: "event1",
		Kind:    models.JobReminderDay,
		ChatID:  "chat1",
		FireAt:  past,
	}
	staleCleanup := models.ScheduledJob{
		ID:      uuid.New().String(),
		EventID: "event2",
		Kind:    models.JobCleanup,
		ChatID:  "chat1",
		FireAt:  past,
	}
	require.NoError(t, store.CreateJob(staleReminder))
	require.NoError(t, store.CreateJob(staleCleanup))

	require.NoError(t, service.Recover())

	select {
	case kind := <-dispatcher.fired:
		assert.Equal(t, models.JobCleanup, kind)
	case <-time.After(time.Second):
		t.Fatal("stale cleanup was not fired")
	}

	assert.Equal(t, 0, dispatcher.reminderCount())
	assert.Equal(t, 1, dispatcher.cleanupCount())

	// Both rows are resolved.
	all, err := store.GetAllJobs()
	require.NoError(t, err)
	assert.Empty(t, all)
}

// failingJobDB rejects a chosen job kind at persist time.
type failingJobDB struct {
	*schedulerdb.DB
	failKind models.JobKind
}

func (f *failingJobDB) CreateJob(job models.ScheduledJob) error {
	if job.Kind == f.failKind {
		return errors.New("disk full")
	}
	return f.DB.CreateJob(job)
}

func TestSchedulePersistFailureRollsBackAllJobs(t *testing.T) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	_, err = bunDB.NewCreateTable().Model((*models.ScheduledJob)(nil)).Exec(context.Background())
	require.NoError(t, err)

	store := &failingJobDB{DB: &schedulerdb.DB{Bun: bunDB}, failKind: models.JobCleanup}
	dispatcher := newRecordingDispatcher()
	service := scheduler.NewSchedulerService(store, dispatcher, logger.NewLogger(), time.UTC, 24*time.Hour, 15*time.Minute)
	t.Cleanup(service.Stop)

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	service.Now = func() time.Time { return now }

	event := testEvent(time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC))

	_, err = service.Schedule(event)
	require.Error(t, err)

	// The two reminder rows persisted before the cleanup failure are gone.
	jobs, err := store.GetJobsByEvent(event.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
