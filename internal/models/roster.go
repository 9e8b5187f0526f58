package models

import (
	"time"

	"github.com/uptrace/bun"
)

// RosterList identifies which of the three lists a user occupies for an event.
type RosterList string

const (
	ListParticipant RosterList = "participant"
	ListReserve     RosterList = "reserve"
	ListDeclined    RosterList = "declined"
)

type RosterEntry struct {
	bun.BaseModel `bun:"table:roster"`

	EventID     string     `bun:"event_id,pk"`
	UserID      string     `bun:"user_id,pk"`
	DisplayName string     `bun:"display_name,notnull"`
	List        RosterList `bun:"list,notnull"`
	InsertedAt  time.Time  `bun:"inserted_at,notnull"` // promotion order for the reserve list
}
