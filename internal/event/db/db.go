package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"eventcrafter/internal/models"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) GetEventByID(id string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", id).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (d *DB) CreateEvent(event models.Event) error {
	_, err := d.Bun.NewInsert().Model(&event).Exec(context.Background())
	return err
}

func (d *DB) UpdateEvent(event models.Event) error {
	event.UpdatedAt = time.Now()
	_, err := d.Bun.NewUpdate().
		Model(&event).
		Column("description", "date", "time", "capacity", "anchor_message_id", "updated_at").
		Where("id = ?", event.ID).
		Exec(context.Background())
	return err
}

// DeleteEvent removes the event and its roster rows.
func (d *DB) DeleteEvent(id string) error {
	ctx := context.Background()
	if _, err := d.Bun.NewDelete().
		Model((*models.RosterEntry)(nil)).
		Where("event_id = ?", id).
		Exec(ctx); err != nil {
		return err
	}
	_, err := d.Bun.NewDelete().
		Model((*models.Event)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (d *DB) GetEventsByCreator(creatorID string) ([]models.Event, error) {
	var events []models.Event
	err := d.Bun.NewSelect().
		Model(&events).
		Where("creator_id = ?", creatorID).
		Order("created_at ASC").
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return events, nil
}

// --------------- roster ---------------

func (d *DB) GetRosterEntry(eventID, userID string) (*models.RosterEntry, error) {
	var entry models.RosterEntry
	err := d.Bun.NewSelect().
		Model(&entry).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (d *DB) InsertRosterEntry(entry models.RosterEntry) error {
	_, err := d.Bun.NewInsert().Model(&entry).Exec(context.Background())
	return err
}

// MoveRosterEntry switches the user to another list. inserted_at is reset so
// that reserve promotion order matches the order users joined the reserve.
func (d *DB) MoveRosterEntry(eventID, userID string, list models.RosterList, at time.Time) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.RosterEntry)(nil)).
		Set("list = ?", list).
		Set("inserted_at = ?", at).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		Exec(context.Background())
	return err
}

func (d *DB) DeleteRosterEntry(eventID, userID string) error {
	_, err := d.Bun.NewDelete().
		Model((*models.RosterEntry)(nil)).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		Exec(context.Background())
	return err
}

func (d *DB) CountByList(eventID string, list models.RosterList) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.RosterEntry)(nil)).
		Where("event_id = ? AND list = ?", eventID, list).
		Count(context.Background())
}

func (d *DB) ListByList(eventID string, list models.RosterList) ([]models.RosterEntry, error) {
	var entries []models.RosterEntry
	err := d.Bun.NewSelect().
		Model(&entries).
		Where("event_id = ? AND list = ?", eventID, list).
		Order("inserted_at ASC").
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// FirstReserve returns the earliest-inserted reserve entry, the next in line
// for promotion.
func (d *DB) FirstReserve(eventID string) (*models.RosterEntry, error) {
	var entry models.RosterEntry
	err := d.Bun.NewSelect().
		Model(&entry).
		Where("event_id = ? AND list = ?", eventID, models.ListReserve).
		Order("inserted_at ASC").
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
