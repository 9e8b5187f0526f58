package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"eventcrafter/internal/logger"
	"eventcrafter/internal/models"
)

type DBLayer interface {
	CreateJob(job models.ScheduledJob) error
	DeleteJob(id string) error
	DeleteJobsByEvent(eventID string) error
	GetJobsByEvent(eventID string) ([]models.ScheduledJob, error)
	GetAllJobs() ([]models.ScheduledJob, error)
}

// Dispatcher executes a job's action when its timer fires. Implementations
// must tolerate being called for events that no longer exist.
type Dispatcher interface {
	RunReminder(job models.ScheduledJob) error
	RunCleanup(job models.ScheduledJob) error
}

// SchedulerService arms one in-process timer per persisted job row. The row
// is the source of truth: timers are merely a cache of "what to do and when"
// and are rebuilt from the table by Recover after a restart.
type SchedulerService struct {
	DB           DBLayer
	Dispatcher   Dispatcher
	Logger       *logger.Logger
	Location     *time.Location
	DayOffset    time.Duration
	MinuteOffset time.Duration
	Now          func() time.Time

	mu     sync.Mutex
	timers map[string]armedTimer
}

type armedTimer struct {
	timer   *time.Timer
	eventID string
}

func NewSchedulerService(db DBLayer, dispatcher Dispatcher, log *logger.Logger, loc *time.Location, dayOffset, minuteOffset time.Duration) *SchedulerService {
	return &SchedulerService{
		DB:           db,
		Dispatcher:   dispatcher,
		Logger:       log,
		Location:     loc,
		DayOffset:    dayOffset,
		MinuteOffset: minuteOffset,
		Now:          time.Now,
		timers:       make(map[string]armedTimer),
	}
}

// Schedule arms the reminder and cleanup jobs for the event's fire moment
// and persists one row per armed timer. A reminder whose offset already
// passed is skipped; cleanup is always armed. If persisting any row fails,
// every timer armed by this call is cancelled so no ghost timers survive.
func (s *SchedulerService) Schedule(event models.Event) ([]string, error) {
	fireMoment, err := event.FireMoment(s.Location)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	plan := []models.ScheduledJob{
		{Kind: models.JobReminderDay, FireAt: fireMoment.Add(-s.DayOffset)},
		{Kind: models.JobReminderMinutes, FireAt: fireMoment.Add(-s.MinuteOffset)},
		{Kind: models.JobCleanup, FireAt: fireMoment},
	}

	var armed []string
	for _, job := range plan {
		if job.Kind != models.JobCleanup && job.FireAt.Before(now) {
			s.Logger.LogScheduler("SKIP", event.ID, fmt.Sprintf("%s offset already passed", job.Kind))
			continue
		}

		job.ID = uuid.New().String()
		job.EventID = event.ID
		job.ChatID = event.ChatID

		s.arm(job)
		if err := s.DB.CreateJob(job); err != nil {
			// Registration and persistence are a unit: roll back every
			// timer this call armed.
			s.cancelTimer(job.ID)
			for _, id := range armed {
				s.cancelTimer(id)
				if derr := s.DB.DeleteJob(id); derr != nil {
					s.Logger.Error("SCHEDULER", fmt.Sprintf("rollback of job %s failed: %v", id, derr))
				}
			}
			return nil, fmt.Errorf("persist job %s for event %s: %w", job.Kind, event.ID, err)
		}
		armed = append(armed, job.ID)
		s.Logger.LogScheduler("ARM", job.ID, fmt.Sprintf("%s for event %s at %s", job.Kind, event.ID, job.FireAt.Format(time.RFC3339)))
	}

	return armed, nil
}

// CancelAll stops every timer for the event and deletes its job rows. Used
// before re-scheduling after a date/time edit and when the event is deleted.
func (s *SchedulerService) CancelAll(eventID string) error {
	s.mu.Lock()
	for id, at := range s.timers {
		if at.eventID == eventID {
			at.timer.Stop()
			delete(s.timers, id)
		}
	}
	s.mu.Unlock()

	if err := s.DB.DeleteJobsByEvent(eventID); err != nil {
		return fmt.Errorf("delete jobs for event %s: %w", eventID, err)
	}
	s.Logger.LogScheduler("CANCEL", eventID, "all jobs cancelled")
	return nil
}

// Recover rebuilds in-process timers from the scheduled_jobs table. Runs
// once at startup, before any new input is accepted. Jobs whose fire moment
// already passed are resolved immediately: a stale cleanup still runs, a
// stale reminder is useless and is dropped.
func (s *SchedulerService) Recover() error {
	jobs, err := s.DB.GetAllJobs()
	if err != nil {
		return fmt.Errorf("load persisted jobs: %w", err)
	}

	now := s.Now()
	for _, job := range jobs {
		if !job.FireAt.After(now) {
			if job.Kind == models.JobCleanup {
				s.Logger.LogScheduler("RECOVER", job.ID, fmt.Sprintf("stale cleanup for event %s, firing now", job.EventID))
				s.fire(job)
			} else {
				s.Logger.LogScheduler("RECOVER", job.ID, fmt.Sprintf("stale %s for event %s, dropped", job.Kind, job.EventID))
				if err := s.DB.DeleteJob(job.ID); err != nil {
					s.Logger.Error("SCHEDULER", fmt.Sprintf("drop stale job %s: %v", job.ID, err))
				}
			}
			continue
		}

		// Re-arm at the persisted absolute moment, not relative to the
		// restart time.
		s.arm(job)
		s.Logger.LogScheduler("RECOVER", job.ID, fmt.Sprintf("%s re-armed at %s", job.Kind, job.FireAt.Format(time.RFC3339)))
	}

	return nil
}

// PendingForEvent exposes the persisted jobs of one event, fire time
// ascending.
func (s *SchedulerService) PendingForEvent(eventID string) ([]models.ScheduledJob, error) {
	return s.DB.GetJobsByEvent(eventID)
}

// Stop cancels every armed timer without touching persisted rows. Used on
// graceful shutdown; the rows are re-armed by Recover on the next start.
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range s.timers {
		at.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *SchedulerService) arm(job models.ScheduledJob) {
	delay := job.FireAt.Sub(s.Now())
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	s.timers[job.ID] = armedTimer{
		timer:   time.AfterFunc(delay, func() { s.fire(job) }),
		eventID: job.EventID,
	}
	s.mu.Unlock()
}

func (s *SchedulerService) cancelTimer(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at, ok := s.timers[jobID]; ok {
		at.timer.Stop()
		delete(s.timers, jobID)
	}
}

func (s *SchedulerService) fire(job models.ScheduledJob) {
	s.mu.Lock()
	delete(s.timers, job.ID)
	s.mu.Unlock()

	// The row goes first so a crash mid-action never replays a reminder.
	if err := s.DB.DeleteJob(job.ID); err != nil {
		s.Logger.Error("SCHEDULER", fmt.Sprintf("delete fired job %s: %v", job.ID, err))
	}

	var err error
	switch job.Kind {
	case models.JobReminderDay, models.JobReminderMinutes:
		err = s.Dispatcher.RunReminder(job)
	case models.JobCleanup:
		err = s.Dispatcher.RunCleanup(job)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if err != nil {
		// Dispatch failures are logged, never retried.
		s.Logger.Error("SCHEDULER", fmt.Sprintf("job %s (%s) failed: %v", job.ID, job.Kind, err))
		return
	}
	s.Logger.LogScheduler("FIRE", job.ID, fmt.Sprintf("%s for event %s done", job.Kind, job.EventID))
}
