package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"eventcrafter/internal/bot"
	"eventcrafter/internal/event"
	"eventcrafter/internal/logger"
	"eventcrafter/internal/models"
	"eventcrafter/internal/roster"
)

type Handler struct {
	Orchestrator *bot.Orchestrator
	Events       *event.EventService
	Roster       *roster.RosterService
	Logger       *logger.Logger
}

func NewHandler(orchestrator *bot.Orchestrator, events *event.EventService, rosterSvc *roster.RosterService, log *logger.Logger) *Handler {
	return &Handler{
		Orchestrator: orchestrator,
		Events:       events,
		Roster:       rosterSvc,
		Logger:       log,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/webhook", h.Webhook)
	r.Get("/api/v1/events/{eventId}", h.GetEvent)
	r.Get("/healthz", h.Health)
	return r
}

// Webhook receives Telegram update payloads and hands the normalized update
// to the orchestrator. Always answers 200 so the platform doesn't redeliver.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	var payload models.WebhookUpdate
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Webhook: failed to decode update: %v", err))
		http.Error(w, "Invalid update body: "+err.Error(), http.StatusBadRequest)
		return
	}

	upd, ok := normalize(payload)
	if !ok {
		// An update kind the bot doesn't consume.
		w.WriteHeader(http.StatusOK)
		return
	}

	h.Logger.Debug("API", fmt.Sprintf("Webhook: update from user %s in chat %s", upd.UserID, upd.ChatID))
	h.Orchestrator.HandleUpdate(r.Context(), upd)
	w.WriteHeader(http.StatusOK)
}

type eventResponse struct {
	Event        *models.Event        `json:"event"`
	Participants []models.RosterEntry `json:"participants"`
	Reserve      []models.RosterEntry `json:"reserve"`
	Declined     []models.RosterEntry `json:"declined"`
}

// GetEvent exposes the event and its three-list snapshot as JSON.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	h.Logger.Info("API", fmt.Sprintf("GetEvent: eventId=%s", eventID))

	ev, err := h.Events.Get(eventID)
	if err != nil {
		if errors.Is(err, event.ErrEventNotFound) {
			http.Error(w, "Event not found", http.StatusNotFound)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetEvent: %v", err))
		http.Error(w, "Failed to load event", http.StatusInternalServerError)
		return
	}

	participants, reserve, declined, err := h.Roster.Snapshot(eventID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetEvent: snapshot failed: %v", err))
		http.Error(w, "Failed to load roster", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(eventResponse{
		Event:        ev,
		Participants: participants,
		Reserve:      reserve,
		Declined:     declined,
	}); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetEvent: failed to encode response: %v", err))
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// normalize flattens the Telegram payload into the internal update shape.
func normalize(payload models.WebhookUpdate) (models.Update, bool) {
	if payload.CallbackQuery != nil && payload.CallbackQuery.Message != nil {
		cq := payload.CallbackQuery
		return models.Update{
			ChatID:       strconv.FormatInt(cq.Message.Chat.ID, 10),
			UserID:       strconv.FormatInt(cq.From.ID, 10),
			DisplayName:  displayName(cq.From.FirstName, cq.From.Username),
			CallbackData: cq.Data,
		}, true
	}
	if payload.Message != nil && payload.Message.Text != "" {
		m := payload.Message
		return models.Update{
			ChatID:      strconv.FormatInt(m.Chat.ID, 10),
			UserID:      strconv.FormatInt(m.From.ID, 10),
			DisplayName: displayName(m.From.FirstName, m.From.Username),
			Text:        m.Text,
		}, true
	}
	return models.Update{}, false
}

func displayName(firstName, username string) string {
	if firstName != "" {
		return firstName
	}
	if username != "" {
		return "@" + username
	}
	return "someone"
}
