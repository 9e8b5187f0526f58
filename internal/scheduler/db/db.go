package db

import (
	"context"

	"github.com/uptrace/bun"

	"eventcrafter/internal/models"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateJob(job models.ScheduledJob) error {
	_, err := d.Bun.NewInsert().Model(&job).Exec(context.Background())
	return err
}

func (d *DB) DeleteJob(id string) error {
	_, err := d.Bun.NewDelete().
		Model((*models.ScheduledJob)(nil)).
		Where("id = ?", id).
		Exec(context.Background())
	return err
}

func (d *DB) DeleteJobsByEvent(eventID string) error {
	_, err := d.Bun.NewDelete().
		Model((*models.ScheduledJob)(nil)).
		Where("event_id = ?", eventID).
		Exec(context.Background())
	return err
}

func (d *DB) GetJobsByEvent(eventID string) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	err := d.Bun.NewSelect().
		Model(&jobs).
		Where("event_id = ?", eventID).
		Order("fire_at ASC").
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetAllJobs loads every persisted job, ordered by fire time. Used by the
// recovery pass at startup.
func (d *DB) GetAllJobs() ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	err := d.Bun.NewSelect().
		Model(&jobs).
		Order("fire_at ASC").
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return jobs, nil
}
