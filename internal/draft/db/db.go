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

func (d *DB) GetDraftByID(id string) (*models.Draft, error) {
	var draft models.Draft
	err := d.Bun.NewSelect().
		Model(&draft).
		Where("id = ?", id).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

// ActiveDraftByOwner looks up the one non-terminal draft for a
// (creator, chat) pair. sql.ErrNoRows means there is none.
func (d *DB) ActiveDraftByOwner(creatorID, chatID string) (*models.Draft, error) {
	var draft models.Draft
	err := d.Bun.NewSelect().
		Model(&draft).
		Where("creator_id = ? AND chat_id = ? AND status != ?", creatorID, chatID, models.StatusDone).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

func (d *DB) CreateDraft(draft models.Draft) error {
	_, err := d.Bun.NewInsert().Model(&draft).Exec(context.Background())
	return err
}

func (d *DB) UpdateDraft(draft models.Draft) error {
	draft.UpdatedAt = time.Now()
	_, err := d.Bun.NewUpdate().
		Model(&draft).
		Column("status", "description", "date", "time", "capacity", "target_event_id", "updated_at").
		Where("id = ?", draft.ID).
		Exec(context.Background())
	return err
}

func (d *DB) DeleteDraft(id string) error {
	_, err := d.Bun.NewDelete().
		Model((*models.Draft)(nil)).
		Where("id = ?", id).
		Exec(context.Background())
	return err
}
