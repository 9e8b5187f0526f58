package models

import (
	"time"

	"github.com/uptrace/bun"
)

// DraftStatus is the workflow state persisted with the draft. The creation
// flow advances through the await_* statuses in order; the edit_* statuses
// are single-step flows that write to an existing event.
type DraftStatus string

const (
	StatusAwaitDescription DraftStatus = "await_description"
	StatusAwaitDate        DraftStatus = "await_date"
	StatusAwaitTime        DraftStatus = "await_time"
	StatusAwaitLimit       DraftStatus = "await_limit"
	StatusDone             DraftStatus = "done"

	StatusEditDescription DraftStatus = "edit_description"
	StatusEditDate        DraftStatus = "edit_date"
	StatusEditTime        DraftStatus = "edit_time"
	StatusEditLimit       DraftStatus = "edit_limit"
)

// IsEdit reports whether the status belongs to a single-step edit flow.
func (s DraftStatus) IsEdit() bool {
	switch s {
	case StatusEditDescription, StatusEditDate, StatusEditTime, StatusEditLimit:
		return true
	}
	return false
}

type Draft struct {
	bun.BaseModel `bun:"table:drafts"`

	ID            string      `bun:"id,pk"`
	CreatorID     string      `bun:"creator_id,notnull"`
	ChatID        string      `bun:"chat_id,notnull"`
	Status        DraftStatus `bun:"status,notnull"`
	Description   string      `bun:"description"`
	Date          string      `bun:"date"`
	Time          string      `bun:"time"`
	Capacity      *int        `bun:"capacity"`
	TargetEventID string      `bun:"target_event_id"` // set for edit_* drafts
	CreatedAt     time.Time   `bun:"created_at,notnull"`
	UpdatedAt     time.Time   `bun:"updated_at,notnull"`
}
