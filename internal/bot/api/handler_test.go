package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"eventcrafter/internal/event"
	eventdb "eventcrafter/internal/event/db"
	"eventcrafter/internal/logger"
	"eventcrafter/internal/models"
	"eventcrafter/internal/roster"
)

func setupHandler(t *testing.T) (*Handler, *eventdb.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	for _, model := range []any{(*models.Event)(nil), (*models.RosterEntry)(nil)} {
		_, err = bunDB.NewCreateTable().Model(model).Exec(context.Background())
		require.NoError(t, err)
	}

	log := logger.NewLogger()
	store := &eventdb.DB{Bun: bunDB}
	events := event.NewEventService(store, nil, nil, nil, log)
	rosterSvc := roster.NewRosterService(store, nil, nil, log)

	return NewHandler(nil, events, rosterSvc, log), store
}

func TestNormalizeMessage(t *testing.T) {
	var payload models.WebhookUpdate
	raw := `{
		"update_id": 7,
		"message": {
			"message_id": 100,
			"from": {"id": 42, "first_name": "Alice", "username": "alice42"},
			"chat": {"id": -100500},
			"text": "/create"
		}
	}`
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))

	upd, ok := normalize(payload)
	require.True(t, ok)
	assert.Equal(t, "-100500", upd.ChatID)
	assert.Equal(t, "42", upd.UserID)
	assert.Equal(t, "Alice", upd.DisplayName)
	assert.Equal(t, "/create", upd.Text)
	assert.Empty(t, upd.CallbackData)
}

func TestNormalizeCallbackQuery(t *testing.T) {
	var payload models.WebhookUpdate
	raw := `{
		"update_id": 8,
		"callback_query": {
			"id": "cb1",
			"from": {"id": 42, "username": "alice42"},
			"message": {"chat": {"id": -100500}},
			"data": "join:event1"
		}
	}`
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))

	upd, ok := normalize(payload)
	require.True(t, ok)
	assert.Equal(t, "-100500", upd.ChatID)
	assert.Equal(t, "42", upd.UserID)
	assert.Equal(t, "@alice42", upd.DisplayName)
	assert.Equal(t, "join:event1", upd.CallbackData)
	assert.Empty(t, upd.Text)
}

func TestNormalizeIgnoresOtherUpdateKinds(t *testing.T) {
	_, ok := normalize(models.WebhookUpdate{UpdateID: 9})
	assert.False(t, ok)
}

func TestDisplayNameFallbacks(t *testing.T) {
	assert.Equal(t, "Alice", displayName("Alice", "alice42"))
	assert.Equal(t, "@alice42", displayName("", "alice42"))
	assert.Equal(t, "someone", displayName("", ""))
}

func TestWebhookRejectsBadJSON(t *testing.T) {
	handler, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handler.Webhook(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookAcceptsUnconsumedUpdate(t *testing.T) {
	handler, _ := setupHandler(t)

	// An edited_message-style payload the bot doesn't consume still gets 200
	// so Telegram doesn't redeliver it.
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"update_id": 10}`))
	rec := httptest.NewRecorder()
	handler.Webhook(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetEventReturnsSnapshot(t *testing.T) {
	handler, store := setupHandler(t)

	capacity := 2
	require.NoError(t, store.CreateEvent(models.Event{
		ID:          "event1",
		Description: "Board game night",
		Date:        "01.06.2025",
		Time:        "19:00",
		Capacity:    &capacity,
		CreatorID:   "creator1",
		ChatID:      "chat1",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}))
	require.NoError(t, store.InsertRosterEntry(models.RosterEntry{
		EventID: "event1", UserID: "userA", DisplayName: "Alice",
		List: models.ListParticipant, InsertedAt: time.Now(),
	}))
	require.NoError(t, store.InsertRosterEntry(models.RosterEntry{
		EventID: "event1", UserID: "userB", DisplayName: "Bob",
		List: models.ListReserve, InsertedAt: time.Now(),
	}))

	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/api/v1/events/event1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body eventResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Event)
	assert.Equal(t, "Board game night", body.Event.Description)
	require.Len(t, body.Participants, 1)
	assert.Equal(t, "Alice", body.Participants[0].DisplayName)
	require.Len(t, body.Reserve, 1)
	assert.Empty(t, body.Declined)
}

func TestGetEventNotFound(t *testing.T) {
	handler, _ := setupHandler(t)

	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/api/v1/events/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	handler, _ := setupHandler(t)

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
