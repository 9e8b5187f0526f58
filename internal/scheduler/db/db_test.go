package db_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"eventcrafter/internal/models"
	"eventcrafter/internal/scheduler/db"
)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = bunDB.NewCreateTable().Model((*models.ScheduledJob)(nil)).Exec(context.Background())
	if err != nil {
		t.Fatalf("Failed to create scheduled_jobs table: %v", err)
	}

	return &db.DB{Bun: bunDB}, bunDB
}

func TestJobsByEventOrderedByFireTime(t *testing.T) {
	jobDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	eventID := uuid.New().String()
	fire := time.Now().Add(48 * time.Hour)

	jobs := []models.ScheduledJob{
		{ID: uuid.New().String(), EventID: eventID, Kind: models.JobCleanup, ChatID: "chat1", FireAt: fire},
		{ID: uuid.New().String(), EventID: eventID, Kind: models.JobReminderDay, ChatID: "chat1", FireAt: fire.Add(-24 * time.Hour)},
		{ID: uuid.New().String(), EventID: eventID, Kind: models.JobReminderMinutes, ChatID: "chat1", FireAt: fire.Add(-15 * time.Minute)},
	}
	for _, job := range jobs {
		require.NoError(t, jobDB.CreateJob(job))
	}

	loaded, err := jobDB.GetJobsByEvent(eventID)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, models.JobReminderDay, loaded[0].Kind)
	assert.Equal(t, models.JobReminderMinutes, loaded[1].Kind)
	assert.Equal(t, models.JobCleanup, loaded[2].Kind)
}

func TestDeleteJobsByEvent(t *testing.T) {
	jobDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	eventID := uuid.New().String()
	otherEventID := uuid.New().String()

	require.NoError(t, jobDB.CreateJob(models.ScheduledJob{
		ID: uuid.New().String(), EventID: eventID, Kind: models.JobCleanup, ChatID: "chat1", FireAt: time.Now().Add(time.Hour),
	}))
	require.NoError(t, jobDB.CreateJob(models.ScheduledJob{
		ID: uuid.New().String(), EventID: otherEventID, Kind: models.JobCleanup, ChatID: "chat1", FireAt: time.Now().Add(time.Hour),
	}))

	require.NoError(t, jobDB.DeleteJobsByEvent(eventID))

	all, err := jobDB.GetAllJobs()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, otherEventID, all[0].EventID)
}
