package draft

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"eventcrafter/internal/logger"
	"eventcrafter/internal/models"
)

type DBLayer interface {
	GetDraftByID(id string) (*models.Draft, error)
	ActiveDraftByOwner(creatorID, chatID string) (*models.Draft, error)
	CreateDraft(draft models.Draft) error
	UpdateDraft(draft models.Draft) error
	DeleteDraft(id string) error
}

type EventStore interface {
	GetEventByID(id string) (*models.Event, error)
	CreateEvent(event models.Event) error
	UpdateEvent(event models.Event) error
	DeleteEvent(id string) error
	CountByList(eventID string, list models.RosterList) (int, error)
}

type Scheduler interface {
	Schedule(event models.Event) ([]string, error)
	CancelAll(eventID string) error
}

type Publisher interface {
	PublishEventCreated(event models.Event) error
}

var (
	ErrDraftNotFound = errors.New("draft not found")
	ErrEventNotFound = errors.New("event not found")
	ErrNotCreator    = errors.New("only the event creator can do that")
)

// DraftService walks one user at a time through composing an event. Progress
// is persisted after every accepted step, so a restart resumes mid-flow from
// the drafts table instead of re-asking for data already supplied.
type DraftService struct {
	DB       DBLayer
	Events   EventStore
	Jobs     Scheduler
	Kafka    Publisher
	Logger   *logger.Logger
	Location *time.Location
	Now      func() time.Time
}

func NewDraftService(db DBLayer, events EventStore, jobs Scheduler, kafka Publisher, log *logger.Logger, loc *time.Location) *DraftService {
	return &DraftService{
		DB:       db,
		Events:   events,
		Jobs:     jobs,
		Kafka:    kafka,
		Logger:   log,
		Location: loc,
		Now:      time.Now,
	}
}

type StepKind int

const (
	StepAdvanced StepKind = iota
	StepRejected
	StepCompleted
	StepEditApplied
)

type StepResult struct {
	Kind    StepKind
	Status  models.DraftStatus
	Prompt  string // next prompt, or the rejection text
	EventID string // set for StepCompleted and StepEditApplied
}

// Start opens (or resumes) the creation flow for a (creator, chat) pair.
// A second Start while a draft is active never creates a duplicate: the
// existing draft is returned with the prompt for its persisted status.
func (s *DraftService) Start(creatorID, chatID string) (*models.Draft, string, error) {
	existing, err := s.DB.ActiveDraftByOwner(creatorID, chatID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("look up active draft: %w", err)
	}
	if existing != nil {
		s.Logger.LogDraft("RESUME", existing.ID, fmt.Sprintf("status %s", existing.Status))
		return existing, promptFor(existing.Status), nil
	}

	now := s.Now()
	draft := models.Draft{
		ID:        uuid.New().String(),
		CreatorID: creatorID,
		ChatID:    chatID,
		Status:    models.StatusAwaitDescription,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.DB.CreateDraft(draft); err != nil {
		return nil, "", fmt.Errorf("create draft: %w", err)
	}
	s.Logger.LogDraft("START", draft.ID, fmt.Sprintf("creator %s in chat %s", creatorID, chatID))
	return &draft, promptFor(draft.Status), nil
}

// StartEdit opens a single-step edit flow targeting an existing event. An
// active draft for the pair is superseded.
func (s *DraftService) StartEdit(creatorID, chatID, eventID string, status models.DraftStatus) (*models.Draft, string, error) {
	if !status.IsEdit() {
		return nil, "", fmt.Errorf("status %q is not an edit status", status)
	}

	event, err := s.Events.GetEventByID(eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrEventNotFound
		}
		return nil, "", fmt.Errorf("load event %s: %w", eventID, err)
	}
	if event.CreatorID != creatorID {
		return nil, "", ErrNotCreator
	}

	existing, err := s.DB.ActiveDraftByOwner(creatorID, chatID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("look up active draft: %w", err)
	}
	if existing != nil {
		if err := s.DB.DeleteDraft(existing.ID); err != nil {
			return nil, "", fmt.Errorf("supersede draft %s: %w", existing.ID, err)
		}
		s.Logger.LogDraft("SUPERSEDE", existing.ID, "replaced by edit flow")
	}

	now := s.Now()
	draft := models.Draft{
		ID:            uuid.New().String(),
		CreatorID:     creatorID,
		ChatID:        chatID,
		Status:        status,
		TargetEventID: eventID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.DB.CreateDraft(draft); err != nil {
		return nil, "", fmt.Errorf("create edit draft: %w", err)
	}
	s.Logger.LogDraft("EDIT", draft.ID, fmt.Sprintf("%s for event %s", status, eventID))
	return &draft, promptFor(status), nil
}

// Cancel deletes the active draft for the pair, if any.
func (s *DraftService) Cancel(creatorID, chatID string) (bool, error) {
	existing, err := s.DB.ActiveDraftByOwner(creatorID, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("look up active draft: %w", err)
	}
	if err := s.DB.DeleteDraft(existing.ID); err != nil {
		return false, fmt.Errorf("delete draft %s: %w", existing.ID, err)
	}
	s.Logger.LogDraft("CANCEL", existing.ID, "cancelled by creator")
	return true, nil
}

// Active returns the in-flight draft for the pair, or nil.
func (s *DraftService) Active(creatorID, chatID string) (*models.Draft, error) {
	draft, err := s.DB.ActiveDraftByOwner(creatorID, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return draft, nil
}

// Submit feeds one message of user input to the draft. Invalid input keeps
// the draft in the same state and re-prompts; accepted input is persisted
// before the result (and therefore the acknowledgment) is produced.
func (s *DraftService) Submit(draftID, rawText string) (StepResult, error) {
	draft, err := s.DB.GetDraftByID(draftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StepResult{}, ErrDraftNotFound
		}
		return StepResult{}, fmt.Errorf("load draft %s: %w", draftID, err)
	}

	text := strings.TrimSpace(rawText)

	switch draft.Status {
	case models.StatusAwaitDescription:
		if text == "" {
			return s.reject(draft, "The description can't be empty. Send a short text for the event."), nil
		}
		draft.Description = text
		return s.advance(draft, models.StatusAwaitDate)

	case models.StatusAwaitDate:
		date, rejection := s.parseDate(text)
		if rejection != "" {
			return s.reject(draft, rejection), nil
		}
		draft.Date = date
		return s.advance(draft, models.StatusAwaitTime)

	case models.StatusAwaitTime:
		clock, rejection := s.parseTimeOfDay(draft.Date, text)
		if rejection != "" {
			return s.reject(draft, rejection), nil
		}
		draft.Time = clock
		return s.advance(draft, models.StatusAwaitLimit)

	case models.StatusAwaitLimit:
		capacity, rejection := parseLimit(text)
		if rejection != "" {
			return s.reject(draft, rejection), nil
		}
		draft.Capacity = capacity
		// Persist before materializing so a crash between the two leaves a
		// resumable draft, not lost input.
		if err := s.DB.UpdateDraft(*draft); err != nil {
			return StepResult{}, fmt.Errorf("persist draft %s: %w", draft.ID, err)
		}
		return s.complete(draft)

	case models.StatusEditDescription, models.StatusEditDate, models.StatusEditTime, models.StatusEditLimit:
		return s.applyEdit(draft, text)
	}

	return StepResult{}, fmt.Errorf("draft %s is in unexpected status %q", draft.ID, draft.Status)
}

func (s *DraftService) advance(draft *models.Draft, next models.DraftStatus) (StepResult, error) {
	draft.Status = next
	if err := s.DB.UpdateDraft(*draft); err != nil {
		return StepResult{}, fmt.Errorf("persist draft %s: %w", draft.ID, err)
	}
	s.Logger.LogDraft("STEP", draft.ID, fmt.Sprintf("advanced to %s", next))
	return StepResult{Kind: StepAdvanced, Status: next, Prompt: promptFor(next)}, nil
}

func (s *DraftService) reject(draft *models.Draft, text string) StepResult {
	s.Logger.LogDraft("REJECT", draft.ID, fmt.Sprintf("at %s: %s", draft.Status, text))
	return StepResult{Kind: StepRejected, Status: draft.Status, Prompt: text}
}

// complete runs the final logical transaction: materialize the event, arm
// its jobs, delete the draft. A failed materialization leaves the draft
// intact so the user can retry without losing progress.
func (s *DraftService) complete(draft *models.Draft) (StepResult, error) {
	now := s.Now()
	event := models.Event{
		ID:          uuid.New().String(),
		Description: draft.Description,
		Date:        draft.Date,
		Time:        draft.Time,
		Capacity:    draft.Capacity,
		CreatorID:   draft.CreatorID,
		ChatID:      draft.ChatID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.Events.CreateEvent(event); err != nil {
		return StepResult{}, fmt.Errorf("materialize event from draft %s: %w", draft.ID, err)
	}

	if _, err := s.Jobs.Schedule(event); err != nil {
		// Don't leave a half-created event behind: undo and let the user
		// retry the last step.
		if cerr := s.Jobs.CancelAll(event.ID); cerr != nil {
			s.Logger.Error("DRAFT", fmt.Sprintf("cancel jobs after failed schedule: %v", cerr))
		}
		if derr := s.Events.DeleteEvent(event.ID); derr != nil {
			s.Logger.Error("DRAFT", fmt.Sprintf("delete event after failed schedule: %v", derr))
		}
		return StepResult{}, fmt.Errorf("arm jobs for event %s: %w", event.ID, err)
	}

	if err := s.DB.DeleteDraft(draft.ID); err != nil {
		s.Logger.Error("DRAFT", fmt.Sprintf("delete completed draft %s: %v", draft.ID, err))
	}

	if s.Kafka != nil {
		if err := s.Kafka.PublishEventCreated(event); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("event-created publish failed for %s: %v", event.ID, err))
		}
	}

	s.Logger.LogDraft("COMPLETE", draft.ID, fmt.Sprintf("event %s created", event.ID))
	return StepResult{Kind: StepCompleted, Status: models.StatusDone, EventID: event.ID}, nil
}

// applyEdit writes a single validated field directly to the target event and
// ends the edit flow.
func (s *DraftService) applyEdit(draft *models.Draft, text string) (StepResult, error) {
	event, err := s.Events.GetEventByID(draft.TargetEventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Event vanished while the edit was pending; the flow ends.
			if derr := s.DB.DeleteDraft(draft.ID); derr != nil {
				s.Logger.Error("DRAFT", fmt.Sprintf("delete orphaned edit draft %s: %v", draft.ID, derr))
			}
			return StepResult{}, ErrEventNotFound
		}
		return StepResult{}, fmt.Errorf("load event %s: %w", draft.TargetEventID, err)
	}

	timingChanged := false

	switch draft.Status {
	case models.StatusEditDescription:
		if text == "" {
			return s.reject(draft, "The description can't be empty. Send a short text for the event."), nil
		}
		event.Description = text

	case models.StatusEditDate:
		date, rejection := s.parseDate(text)
		if rejection != "" {
			return s.reject(draft, rejection), nil
		}
		if rejection := s.checkMoment(date, event.Time); rejection != "" {
			return s.reject(draft, rejection), nil
		}
		event.Date = date
		timingChanged = true

	case models.StatusEditTime:
		clock, rejection := s.parseTimeOfDay(event.Date, text)
		if rejection != "" {
			return s.reject(draft, rejection), nil
		}
		event.Time = clock
		timingChanged = true

	case models.StatusEditLimit:
		capacity, rejection := parseLimit(text)
		if rejection != "" {
			return s.reject(draft, rejection), nil
		}
		if capacity != nil {
			participants, err := s.Events.CountByList(event.ID, models.ListParticipant)
			if err != nil {
				return StepResult{}, fmt.Errorf("count participants: %w", err)
			}
			if participants > *capacity {
				return s.reject(draft, fmt.Sprintf("There are already %d participants; the limit can't go below that.", participants)), nil
			}
		}
		event.Capacity = capacity
	}

	if err := s.Events.UpdateEvent(*event); err != nil {
		return StepResult{}, fmt.Errorf("update event %s: %w", event.ID, err)
	}

	if timingChanged {
		// Old timers first, then a fresh set from the new fire moment.
		if err := s.Jobs.CancelAll(event.ID); err != nil {
			return StepResult{}, fmt.Errorf("cancel jobs for event %s: %w", event.ID, err)
		}
		if _, err := s.Jobs.Schedule(*event); err != nil {
			return StepResult{}, fmt.Errorf("re-arm jobs for event %s: %w", event.ID, err)
		}
	}

	if err := s.DB.DeleteDraft(draft.ID); err != nil {
		s.Logger.Error("DRAFT", fmt.Sprintf("delete finished edit draft %s: %v", draft.ID, err))
	}

	s.Logger.LogDraft("EDIT_DONE", draft.ID, fmt.Sprintf("%s applied to event %s", draft.Status, event.ID))
	return StepResult{Kind: StepEditApplied, Status: models.StatusDone, EventID: event.ID}, nil
}

// ---------------- validation ----------------

// parseDate validates DD.MM.YYYY input and canonicalizes it. Dates before
// today in the configured timezone are rejected so an event can't be born
// already in the past.
func (s *DraftService) parseDate(text string) (string, string) {
	moment, err := time.ParseInLocation(models.DateLayout, text, s.Location)
	if err != nil {
		return "", "That doesn't look like a date. Use DD.MM.YYYY, for example 01.06.2025."
	}
	now := s.Now().In(s.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.Location)
	if moment.Before(today) {
		return "", "That date is already in the past. Pick today or later."
	}
	return moment.Format(models.DateLayout), ""
}

// parseTimeOfDay validates HH:MM input. When the draft's date is today, a
// time that already passed is rejected.
func (s *DraftService) parseTimeOfDay(date, text string) (string, string) {
	clock, err := time.Parse(models.TimeLayout, text)
	if err != nil {
		return "", "That doesn't look like a time. Use HH:MM in 24-hour form, for example 19:00."
	}
	canonical := clock.Format(models.TimeLayout)
	if rejection := s.checkMoment(date, canonical); rejection != "" {
		return "", rejection
	}
	return canonical, ""
}

// checkMoment rejects a combined date+time that is already behind now.
func (s *DraftService) checkMoment(date, clock string) string {
	if date == "" || clock == "" {
		return ""
	}
	moment, err := time.ParseInLocation(models.DateLayout+" "+models.TimeLayout, date+" "+clock, s.Location)
	if err != nil {
		return ""
	}
	if moment.Before(s.Now()) {
		return "That moment has already passed. Pick a future time."
	}
	return ""
}

// parseLimit accepts a non-negative integer; 0 means unlimited and is
// normalized to the nil capacity sentinel.
func parseLimit(text string) (*int, string) {
	n, err := strconv.Atoi(text)
	if err != nil || n < 0 {
		return nil, "Send a whole number: the participant limit, or 0 for unlimited."
	}
	if n == 0 {
		return nil, ""
	}
	return &n, ""
}

func promptFor(status models.DraftStatus) string {
	switch status {
	case models.StatusAwaitDescription, models.StatusEditDescription:
		return "What is the event about? Send a description."
	case models.StatusAwaitDate, models.StatusEditDate:
		return "When is it? Send the date as DD.MM.YYYY."
	case models.StatusAwaitTime, models.StatusEditTime:
		return "What time? Send it as HH:MM."
	case models.StatusAwaitLimit, models.StatusEditLimit:
		return "How many participants at most? Send a number, 0 for unlimited."
	}
	return ""
}
