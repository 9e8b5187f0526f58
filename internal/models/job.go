package models

import (
	"time"

	"github.com/uptrace/bun"
)

// JobKind selects which scheduled action a job row represents.
type JobKind string

const (
	JobReminderDay     JobKind = "reminder_day"
	JobReminderMinutes JobKind = "reminder_minutes"
	JobCleanup         JobKind = "cleanup"
)

// ScheduledJob is the durable record behind an in-process timer. The row is
// the source of truth; the timer is re-created from it after a restart.
type ScheduledJob struct {
	bun.BaseModel `bun:"table:scheduled_jobs"`

	ID      string    `bun:"id,pk"`
	EventID string    `bun:"event_id,notnull"`
	Kind    JobKind   `bun:"kind,notnull"`
	ChatID  string    `bun:"chat_id,notnull"`
	FireAt  time.Time `bun:"fire_at,notnull"`
}
