package event

import (
	"database/sql"
	"errors"
	"fmt"

	"eventcrafter/internal/logger"
	"eventcrafter/internal/models"
)

type DBLayer interface {
	GetEventByID(id string) (*models.Event, error)
	UpdateEvent(event models.Event) error
	DeleteEvent(id string) error
	GetEventsByCreator(creatorID string) ([]models.Event, error)
}

type Scheduler interface {
	CancelAll(eventID string) error
}

type Messenger interface {
	UnpinMessage(chatID, messageID string) error
	DeleteMessage(chatID, messageID string) error
}

type Publisher interface {
	PublishEventDeleted(event models.Event) error
}

var (
	ErrEventNotFound = errors.New("event not found")
	ErrNotCreator    = errors.New("only the event creator can do that")
)

// EventService owns the event lifecycle outside the draft flow: anchor
// bookkeeping and deletion (explicit or via the cleanup job).
type EventService struct {
	DB        DBLayer
	Jobs      Scheduler
	Messenger Messenger
	Kafka     Publisher
	Logger    *logger.Logger
}

func NewEventService(db DBLayer, jobs Scheduler, messenger Messenger, kafka Publisher, log *logger.Logger) *EventService {
	return &EventService{DB: db, Jobs: jobs, Messenger: messenger, Kafka: kafka, Logger: log}
}

func (s *EventService) Get(eventID string) (*models.Event, error) {
	event, err := s.DB.GetEventByID(eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("load event %s: %w", eventID, err)
	}
	return event, nil
}

func (s *EventService) ListByCreator(creatorID string) ([]models.Event, error) {
	return s.DB.GetEventsByCreator(creatorID)
}

// SetAnchor records the chat message that displays the event's roster.
func (s *EventService) SetAnchor(eventID, messageID string) error {
	event, err := s.Get(eventID)
	if err != nil {
		return err
	}
	event.AnchorMessageID = messageID
	if err := s.DB.UpdateEvent(*event); err != nil {
		return fmt.Errorf("store anchor for event %s: %w", eventID, err)
	}
	return nil
}

// DeleteByCreator removes the event on the creator's explicit request.
// Non-creators are rejected with no state change.
func (s *EventService) DeleteByCreator(eventID, requesterID string) error {
	event, err := s.Get(eventID)
	if err != nil {
		return err
	}
	if event.CreatorID != requesterID {
		return ErrNotCreator
	}
	return s.purge(event)
}

// Purge removes the event without an authorization check. The cleanup job
// uses it once the event's moment has passed.
func (s *EventService) Purge(eventID string) error {
	event, err := s.Get(eventID)
	if err != nil {
		return err
	}
	return s.purge(event)
}

func (s *EventService) purge(event *models.Event) error {
	// Orphaned timers referencing a deleted event are worse than a stray
	// pinned message, so jobs go first and messaging failures are tolerated.
	if err := s.Jobs.CancelAll(event.ID); err != nil {
		return fmt.Errorf("cancel jobs for event %s: %w", event.ID, err)
	}

	if event.AnchorMessageID != "" && s.Messenger != nil {
		if err := s.Messenger.UnpinMessage(event.ChatID, event.AnchorMessageID); err != nil {
			s.Logger.Warn("EVENT", fmt.Sprintf("unpin anchor of event %s: %v", event.ID, err))
		}
		if err := s.Messenger.DeleteMessage(event.ChatID, event.AnchorMessageID); err != nil {
			s.Logger.Warn("EVENT", fmt.Sprintf("delete anchor of event %s: %v", event.ID, err))
		}
	}

	if err := s.DB.DeleteEvent(event.ID); err != nil {
		return fmt.Errorf("delete event %s: %w", event.ID, err)
	}

	if s.Kafka != nil {
		if err := s.Kafka.PublishEventDeleted(*event); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("event-deleted publish failed for %s: %v", event.ID, err))
		}
	}

	s.Logger.Info("EVENT", fmt.Sprintf("event %s deleted", event.ID))
	return nil
}
