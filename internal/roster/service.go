package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"eventcrafter/internal/logger"
	"eventcrafter/internal/models"
)

type DBLayer interface {
	GetEventByID(id string) (*models.Event, error)
	GetRosterEntry(eventID, userID string) (*models.RosterEntry, error)
	InsertRosterEntry(entry models.RosterEntry) error
	MoveRosterEntry(eventID, userID string, list models.RosterList, at time.Time) error
	DeleteRosterEntry(eventID, userID string) error
	CountByList(eventID string, list models.RosterList) (int, error)
	ListByList(eventID string, list models.RosterList) ([]models.RosterEntry, error)
	FirstReserve(eventID string) (*models.RosterEntry, error)
}

type EventLock interface {
	Lock(ctx context.Context, eventID, ownerID string) error
	Unlock(eventID, ownerID string) error
}

type Publisher interface {
	PublishRosterChanged(eventID, userID string, list models.RosterList) error
}

// RosterService owns all membership transitions between the participant,
// reserve and declined lists of an event. Every read-modify-write runs under
// the per-event lock.
type RosterService struct {
	DB     DBLayer
	Lock   EventLock
	Kafka  Publisher
	Logger *logger.Logger
}

func NewRosterService(db DBLayer, lock EventLock, kafka Publisher, log *logger.Logger) *RosterService {
	return &RosterService{DB: db, Lock: lock, Kafka: kafka, Logger: log}
}

type JoinResult struct {
	List           models.RosterList
	AlreadyPresent bool
}

type LeaveResult struct {
	AlreadyDeclined bool
	WasPresent      bool
	Promoted        *models.RosterEntry
}

var ErrEventNotFound = errors.New("event not found")

// Join places the user into the participant list while capacity allows,
// otherwise into the reserve. Joining twice is a no-op, not an error.
func (s *RosterService) Join(ctx context.Context, eventID, userID, displayName string) (JoinResult, error) {
	ownerID := uuid.New().String()
	if err := s.Lock.Lock(ctx, eventID, ownerID); err != nil {
		return JoinResult{}, fmt.Errorf("acquire event lock: %w", err)
	}
	defer func() {
		if err := s.Lock.Unlock(eventID, ownerID); err != nil {
			s.Logger.Error("ROSTER", fmt.Sprintf("Join: failed to release lock for event %s: %v", eventID, err))
		}
	}()

	event, err := s.DB.GetEventByID(eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return JoinResult{}, ErrEventNotFound
		}
		return JoinResult{}, fmt.Errorf("load event %s: %w", eventID, err)
	}

	entry, err := s.DB.GetRosterEntry(eventID, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return JoinResult{}, fmt.Errorf("load roster entry: %w", err)
	}

	if entry != nil {
		switch entry.List {
		case models.ListParticipant, models.ListReserve:
			s.Logger.LogRoster("JOIN", eventID, fmt.Sprintf("user %s already in %s", userID, entry.List))
			return JoinResult{List: entry.List, AlreadyPresent: true}, nil
		case models.ListDeclined:
			if err := s.DB.DeleteRosterEntry(eventID, userID); err != nil {
				return JoinResult{}, fmt.Errorf("clear declined entry: %w", err)
			}
		}
	}

	list := models.ListParticipant
	if !event.Unlimited() {
		count, err := s.DB.CountByList(eventID, models.ListParticipant)
		if err != nil {
			return JoinResult{}, fmt.Errorf("count participants: %w", err)
		}
		if count >= *event.Capacity {
			list = models.ListReserve
		}
	}

	newEntry := models.RosterEntry{
		EventID:     eventID,
		UserID:      userID,
		DisplayName: displayName,
		List:        list,
		InsertedAt:  time.Now(),
	}
	if err := s.DB.InsertRosterEntry(newEntry); err != nil {
		return JoinResult{}, fmt.Errorf("insert roster entry: %w", err)
	}

	s.Logger.LogRoster("JOIN", eventID, fmt.Sprintf("user %s landed in %s", userID, list))
	s.publish(eventID, userID, list)

	return JoinResult{List: list}, nil
}

// Leave moves the user to the declined list. Leaving the participant list
// promotes the earliest-inserted reserve entry into the freed slot.
func (s *RosterService) Leave(ctx context.Context, eventID, userID, displayName string) (LeaveResult, error) {
	ownerID := uuid.New().String()
	if err := s.Lock.Lock(ctx, eventID, ownerID); err != nil {
		return LeaveResult{}, fmt.Errorf("acquire event lock: %w", err)
	}
	defer func() {
		if err := s.Lock.Unlock(eventID, ownerID); err != nil {
			s.Logger.Error("ROSTER", fmt.Sprintf("Leave: failed to release lock for event %s: %v", eventID, err))
		}
	}()

	if _, err := s.DB.GetEventByID(eventID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LeaveResult{}, ErrEventNotFound
		}
		return LeaveResult{}, fmt.Errorf("load event %s: %w", eventID, err)
	}

	entry, err := s.DB.GetRosterEntry(eventID, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return LeaveResult{}, fmt.Errorf("load roster entry: %w", err)
	}

	now := time.Now()

	if entry == nil {
		// Never interacted with this event: record the decline directly.
		newEntry := models.RosterEntry{
			EventID:     eventID,
			UserID:      userID,
			DisplayName: displayName,
			List:        models.ListDeclined,
			InsertedAt:  now,
		}
		if err := s.DB.InsertRosterEntry(newEntry); err != nil {
			return LeaveResult{}, fmt.Errorf("insert declined entry: %w", err)
		}
		s.publish(eventID, userID, models.ListDeclined)
		return LeaveResult{}, nil
	}

	switch entry.List {
	case models.ListDeclined:
		s.Logger.LogRoster("LEAVE", eventID, fmt.Sprintf("user %s already declined", userID))
		return LeaveResult{AlreadyDeclined: true, WasPresent: true}, nil

	case models.ListReserve:
		// Removing a reserve entry frees no participant slot, so no
		// promotion happens here.
		if err := s.DB.MoveRosterEntry(eventID, userID, models.ListDeclined, now); err != nil {
			return LeaveResult{}, fmt.Errorf("move to declined: %w", err)
		}
		s.Logger.LogRoster("LEAVE", eventID, fmt.Sprintf("user %s left the reserve", userID))
		s.publish(eventID, userID, models.ListDeclined)
		return LeaveResult{WasPresent: true}, nil

	case models.ListParticipant:
		if err := s.DB.MoveRosterEntry(eventID, userID, models.ListDeclined, now); err != nil {
			return LeaveResult{}, fmt.Errorf("move to declined: %w", err)
		}
		s.publish(eventID, userID, models.ListDeclined)

		next, err := s.DB.FirstReserve(eventID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				s.Logger.LogRoster("LEAVE", eventID, fmt.Sprintf("user %s left, reserve empty", userID))
				return LeaveResult{WasPresent: true}, nil
			}
			return LeaveResult{}, fmt.Errorf("load reserve head: %w", err)
		}

		if err := s.DB.MoveRosterEntry(eventID, next.UserID, models.ListParticipant, now); err != nil {
			return LeaveResult{}, fmt.Errorf("promote %s: %w", next.UserID, err)
		}
		promoted := *next
		promoted.List = models.ListParticipant
		s.Logger.LogRoster("PROMOTE", eventID, fmt.Sprintf("user %s promoted after %s left", next.UserID, userID))
		s.publish(eventID, next.UserID, models.ListParticipant)

		return LeaveResult{WasPresent: true, Promoted: &promoted}, nil
	}

	return LeaveResult{}, fmt.Errorf("unknown roster list %q", entry.List)
}

// Snapshot returns the three lists in display order.
func (s *RosterService) Snapshot(eventID string) (participants, reserve, declined []models.RosterEntry, err error) {
	if participants, err = s.DB.ListByList(eventID, models.ListParticipant); err != nil {
		return nil, nil, nil, err
	}
	if reserve, err = s.DB.ListByList(eventID, models.ListReserve); err != nil {
		return nil, nil, nil, err
	}
	if declined, err = s.DB.ListByList(eventID, models.ListDeclined); err != nil {
		return nil, nil, nil, err
	}
	return participants, reserve, declined, nil
}

// Kafka failures never abort a roster mutation.
func (s *RosterService) publish(eventID, userID string, list models.RosterList) {
	if s.Kafka == nil {
		return
	}
	if err := s.Kafka.PublishRosterChanged(eventID, userID, list); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("roster-changed publish failed for event %s: %v", eventID, err))
	}
}
