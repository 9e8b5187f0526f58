package models

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// DateLayout and TimeLayout are the only accepted input formats for event
// date and time fields.
const (
	DateLayout = "02.01.2006"
	TimeLayout = "15:04"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID              string    `bun:"id,pk"`
	Description     string    `bun:"description,notnull"`
	Date            string    `bun:"date,notnull"` // DD.MM.YYYY
	Time            string    `bun:"time,notnull"` // HH:MM
	Capacity        *int      `bun:"capacity"`     // nil = unlimited
	CreatorID       string    `bun:"creator_id,notnull"`
	ChatID          string    `bun:"chat_id,notnull"`
	AnchorMessageID string    `bun:"anchor_message_id"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
}

// FireMoment resolves the event's date+time in the given timezone.
func (e *Event) FireMoment(loc *time.Location) (time.Time, error) {
	moment, err := time.ParseInLocation(DateLayout+" "+TimeLayout, e.Date+" "+e.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid event date/time %q %q: %w", e.Date, e.Time, err)
	}
	return moment, nil
}

// Unlimited reports whether the event has no participant cap.
func (e *Event) Unlimited() bool {
	return e.Capacity == nil
}
