package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"eventcrafter/internal/draft"
	"eventcrafter/internal/event"
	"eventcrafter/internal/logger"
	"eventcrafter/internal/models"
	"eventcrafter/internal/roster"
	"eventcrafter/internal/telegram"
)

type Messenger interface {
	SendMessage(chatID, text string) (string, error)
	SendMessageWithButtons(chatID, text string, buttons []telegram.Button) (string, error)
	EditMessage(chatID, messageID, text string, buttons []telegram.Button) error
	PinMessage(chatID, messageID string) error
	UnpinMessage(chatID, messageID string) error
	DeleteMessage(chatID, messageID string) error
}

type Publisher interface {
	PublishReminderSent(job models.ScheduledJob, recipients int) error
}

// Orchestrator is the thin glue between inbound chat updates and the draft,
// roster and event services. It owns no business rules beyond routing and
// message rendering.
type Orchestrator struct {
	Drafts    *draft.DraftService
	Roster    *roster.RosterService
	Events    *event.EventService
	Lock      roster.EventLock
	Messenger Messenger
	Kafka     Publisher
	Logger    *logger.Logger
}

func NewOrchestrator(drafts *draft.DraftService, rosterSvc *roster.RosterService, events *event.EventService, lock roster.EventLock, messenger Messenger, kafka Publisher, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		Drafts:    drafts,
		Roster:    rosterSvc,
		Events:    events,
		Lock:      lock,
		Messenger: messenger,
		Kafka:     kafka,
		Logger:    log,
	}
}

// HandleUpdate routes one normalized update. Every user action ends in
// either a confirmed state change or an explicit rejection message.
func (o *Orchestrator) HandleUpdate(ctx context.Context, upd models.Update) {
	if upd.CallbackData != "" {
		o.handleCallback(ctx, upd)
		return
	}

	text := strings.TrimSpace(upd.Text)
	switch {
	case text == "/create":
		o.handleCreate(upd)
	case text == "/cancel":
		o.handleCancel(upd)
	case strings.HasPrefix(text, "/delete"):
		o.handleDelete(upd, argOf(text))
	case strings.HasPrefix(text, "/edit_description"):
		o.handleEdit(upd, argOf(text), models.StatusEditDescription)
	case strings.HasPrefix(text, "/edit_date"):
		o.handleEdit(upd, argOf(text), models.StatusEditDate)
	case strings.HasPrefix(text, "/edit_time"):
		o.handleEdit(upd, argOf(text), models.StatusEditTime)
	case strings.HasPrefix(text, "/edit_limit"):
		o.handleEdit(upd, argOf(text), models.StatusEditLimit)
	default:
		o.handleText(upd)
	}
}

func argOf(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

func (o *Orchestrator) handleCreate(upd models.Update) {
	_, prompt, err := o.Drafts.Start(upd.UserID, upd.ChatID)
	if err != nil {
		o.Logger.Error("BOT", fmt.Sprintf("start draft: %v", err))
		o.say(upd.ChatID, "Something went wrong, please try again.")
		return
	}
	o.say(upd.ChatID, prompt)
}

func (o *Orchestrator) handleCancel(upd models.Update) {
	cancelled, err := o.Drafts.Cancel(upd.UserID, upd.ChatID)
	if err != nil {
		o.Logger.Error("BOT", fmt.Sprintf("cancel draft: %v", err))
		o.say(upd.ChatID, "Something went wrong, please try again.")
		return
	}
	if cancelled {
		o.say(upd.ChatID, "Draft cancelled.")
	} else {
		o.say(upd.ChatID, "Nothing to cancel.")
	}
}

func (o *Orchestrator) handleDelete(upd models.Update, eventID string) {
	if eventID == "" {
		o.say(upd.ChatID, "Usage: /delete <event id>")
		return
	}
	err := o.Events.DeleteByCreator(eventID, upd.UserID)
	switch {
	case errors.Is(err, event.ErrEventNotFound):
		o.say(upd.ChatID, "This event no longer exists.")
	case errors.Is(err, event.ErrNotCreator):
		o.say(upd.ChatID, "Only the event creator can delete it.")
	case err != nil:
		o.Logger.Error("BOT", fmt.Sprintf("delete event %s: %v", eventID, err))
		o.say(upd.ChatID, "Something went wrong, please try again.")
	default:
		o.say(upd.ChatID, "Event deleted.")
	}
}

func (o *Orchestrator) handleEdit(upd models.Update, eventID string, status models.DraftStatus) {
	if eventID == "" {
		o.say(upd.ChatID, "Send the event id after the command.")
		return
	}
	_, prompt, err := o.Drafts.StartEdit(upd.UserID, upd.ChatID, eventID, status)
	switch {
	case errors.Is(err, draft.ErrEventNotFound):
		o.say(upd.ChatID, "This event no longer exists.")
	case errors.Is(err, draft.ErrNotCreator):
		o.say(upd.ChatID, "Only the event creator can edit it.")
	case err != nil:
		o.Logger.Error("BOT", fmt.Sprintf("start edit: %v", err))
		o.say(upd.ChatID, "Something went wrong, please try again.")
	default:
		o.say(upd.ChatID, prompt)
	}
}

// handleText feeds free text to the active draft of the (user, chat) pair.
// Text without an active draft is ignored.
func (o *Orchestrator) handleText(upd models.Update) {
	active, err := o.Drafts.Active(upd.UserID, upd.ChatID)
	if err != nil {
		o.Logger.Error("BOT", fmt.Sprintf("look up active draft: %v", err))
		return
	}
	if active == nil {
		return
	}

	result, err := o.Drafts.Submit(active.ID, upd.Text)
	switch {
	case errors.Is(err, draft.ErrDraftNotFound):
		o.say(upd.ChatID, "This draft no longer exists. Start over with /create.")
		return
	case errors.Is(err, draft.ErrEventNotFound):
		o.say(upd.ChatID, "This event no longer exists.")
		return
	case err != nil:
		o.Logger.Error("BOT", fmt.Sprintf("submit to draft %s: %v", active.ID, err))
		o.say(upd.ChatID, "Couldn't save that, your draft is untouched. Please send it again.")
		return
	}

	switch result.Kind {
	case draft.StepAdvanced, draft.StepRejected:
		o.say(upd.ChatID, result.Prompt)
	case draft.StepCompleted:
		o.announceEvent(upd.ChatID, result.EventID)
	case draft.StepEditApplied:
		o.say(upd.ChatID, "Saved.")
		o.SyncAnchor(result.EventID)
	}
}

// announceEvent posts and pins the anchor message carrying the join/leave
// buttons for a freshly created event.
func (o *Orchestrator) announceEvent(chatID, eventID string) {
	ev, err := o.Events.Get(eventID)
	if err != nil {
		o.Logger.Error("BOT", fmt.Sprintf("load new event %s: %v", eventID, err))
		return
	}

	text, buttons := o.render(ev)
	messageID, err := o.Messenger.SendMessageWithButtons(chatID, text, buttons)
	if err != nil {
		o.Logger.Error("BOT", fmt.Sprintf("send anchor for event %s: %v", eventID, err))
		return
	}
	if err := o.Events.SetAnchor(eventID, messageID); err != nil {
		o.Logger.Error("BOT", fmt.Sprintf("store anchor for event %s: %v", eventID, err))
	}
	if err := o.Messenger.PinMessage(chatID, messageID); err != nil {
		o.Logger.Warn("BOT", fmt.Sprintf("pin anchor for event %s: %v", eventID, err))
	}
}

func (o *Orchestrator) handleCallback(ctx context.Context, upd models.Update) {
	action, eventID, ok := strings.Cut(upd.CallbackData, ":")
	if !ok {
		return
	}

	switch action {
	case "join":
		result, err := o.Roster.Join(ctx, eventID, upd.UserID, upd.DisplayName)
		if err != nil {
			o.surfaceRosterError(upd.ChatID, err)
			return
		}
		if result.AlreadyPresent {
			o.dm(upd.UserID, "You're already on the list.")
		} else if result.List == models.ListReserve {
			o.dm(upd.UserID, "The event is full, you're on the reserve list.")
		} else {
			o.dm(upd.UserID, "You're in!")
		}
		o.SyncAnchor(eventID)

	case "leave":
		result, err := o.Roster.Leave(ctx, eventID, upd.UserID, upd.DisplayName)
		if err != nil {
			o.surfaceRosterError(upd.ChatID, err)
			return
		}
		if result.AlreadyDeclined {
			o.dm(upd.UserID, "You had already declined.")
		} else {
			o.dm(upd.UserID, "Noted, you're not going.")
		}
		if result.Promoted != nil {
			o.say(upd.ChatID, fmt.Sprintf("%s can't make it — %s moves up from the reserve!", upd.DisplayName, result.Promoted.DisplayName))
			o.dm(result.Promoted.UserID, "A slot freed up — you're in!")
		}
		o.SyncAnchor(eventID)
	}
}

func (o *Orchestrator) surfaceRosterError(chatID string, err error) {
	if errors.Is(err, roster.ErrEventNotFound) {
		o.say(chatID, "This event no longer exists.")
		return
	}
	o.Logger.Error("BOT", fmt.Sprintf("roster mutation: %v", err))
	o.say(chatID, "Something went wrong, please try again.")
}

// SyncAnchor recomputes the three-list snapshot and pushes it to the anchor
// message. An unchanged-content response counts as success.
func (o *Orchestrator) SyncAnchor(eventID string) {
	ev, err := o.Events.Get(eventID)
	if err != nil {
		o.Logger.Warn("BOT", fmt.Sprintf("sync anchor: %v", err))
		return
	}
	if ev.AnchorMessageID == "" {
		return
	}

	text, buttons := o.render(ev)
	err = o.Messenger.EditMessage(ev.ChatID, ev.AnchorMessageID, text, buttons)
	if err != nil && !errors.Is(err, telegram.ErrNotModified) {
		o.Logger.Error("BOT", fmt.Sprintf("sync anchor of event %s: %v", eventID, err))
	}
}

func (o *Orchestrator) render(ev *models.Event) (string, []telegram.Button) {
	participants, reserve, declined, err := o.Roster.Snapshot(ev.ID)
	if err != nil {
		o.Logger.Error("BOT", fmt.Sprintf("snapshot of event %s: %v", ev.ID, err))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", ev.Description)
	fmt.Fprintf(&b, "When: %s at %s\n", ev.Date, ev.Time)
	if ev.Unlimited() {
		fmt.Fprintf(&b, "Participants (%d):\n", len(participants))
	} else {
		fmt.Fprintf(&b, "Participants (%d/%d):\n", len(participants), *ev.Capacity)
	}
	writeList(&b, participants)
	if len(reserve) > 0 {
		b.WriteString("Reserve:\n")
		writeList(&b, reserve)
	}
	if len(declined) > 0 {
		b.WriteString("Declined:\n")
		writeList(&b, declined)
	}

	buttons := []telegram.Button{
		{Text: "I'm in", CallbackData: "join:" + ev.ID},
		{Text: "Can't make it", CallbackData: "leave:" + ev.ID},
	}
	return b.String(), buttons
}

func writeList(b *strings.Builder, entries []models.RosterEntry) {
	if len(entries) == 0 {
		b.WriteString("  —\n")
		return
	}
	for i, e := range entries {
		fmt.Fprintf(b, "  %d. %s\n", i+1, e.DisplayName)
	}
}

func (o *Orchestrator) say(chatID, text string) {
	if _, err := o.Messenger.SendMessage(chatID, text); err != nil {
		o.Logger.Warn("BOT", fmt.Sprintf("send to chat %s: %v", chatID, err))
	}
}

// dm sends a direct message; in Telegram a private chat id equals the user
// id. Failures are logged and swallowed.
func (o *Orchestrator) dm(userID, text string) {
	if _, err := o.Messenger.SendMessage(userID, text); err != nil {
		o.Logger.Warn("BOT", fmt.Sprintf("dm to user %s: %v", userID, err))
	}
}

// ---------------- scheduler dispatcher ----------------

// RunReminder notifies every current participant. Individual send failures
// never abort the rest of the fan-out.
func (o *Orchestrator) RunReminder(job models.ScheduledJob) error {
	ownerID := uuid.New().String()
	if err := o.Lock.Lock(context.Background(), job.EventID, ownerID); err != nil {
		return fmt.Errorf("acquire event lock: %w", err)
	}
	defer func() {
		if err := o.Lock.Unlock(job.EventID, ownerID); err != nil {
			o.Logger.Error("BOT", fmt.Sprintf("release lock for event %s: %v", job.EventID, err))
		}
	}()

	ev, err := o.Events.Get(job.EventID)
	if err != nil {
		if errors.Is(err, event.ErrEventNotFound) {
			// Deleted between arming and firing; nothing to remind about.
			return nil
		}
		return err
	}

	participants, _, _, err := o.Roster.Snapshot(ev.ID)
	if err != nil {
		return fmt.Errorf("snapshot of event %s: %w", ev.ID, err)
	}

	var lead string
	if job.Kind == models.JobReminderDay {
		lead = "Tomorrow"
	} else {
		lead = "Starting soon"
	}
	text := fmt.Sprintf("%s: %s on %s at %s", lead, ev.Description, ev.Date, ev.Time)

	sent := 0
	for _, p := range participants {
		if _, err := o.Messenger.SendMessage(p.UserID, text); err != nil {
			o.Logger.Warn("BOT", fmt.Sprintf("remind %s about event %s: %v", p.UserID, ev.ID, err))
			continue
		}
		sent++
	}

	if o.Kafka != nil {
		if err := o.Kafka.PublishReminderSent(job, sent); err != nil {
			o.Logger.Error("KAFKA", fmt.Sprintf("reminder-sent publish failed for %s: %v", ev.ID, err))
		}
	}
	return nil
}

// RunCleanup removes the event once its moment has passed.
func (o *Orchestrator) RunCleanup(job models.ScheduledJob) error {
	ownerID := uuid.New().String()
	if err := o.Lock.Lock(context.Background(), job.EventID, ownerID); err != nil {
		return fmt.Errorf("acquire event lock: %w", err)
	}
	defer func() {
		if err := o.Lock.Unlock(job.EventID, ownerID); err != nil {
			o.Logger.Error("BOT", fmt.Sprintf("release lock for event %s: %v", job.EventID, err))
		}
	}()

	err := o.Events.Purge(job.EventID)
	if errors.Is(err, event.ErrEventNotFound) {
		return nil
	}
	return err
}
