package models

// Update is the normalized inbound chat update handed to the orchestrator.
// Exactly one of Text or CallbackData is set: Text for a plain message or
// command, CallbackData for a button press on the anchor message.
type Update struct {
	ChatID       string
	UserID       string
	DisplayName  string
	Text         string
	CallbackData string
}

// WebhookUpdate mirrors the subset of the Telegram update payload the bot
// consumes. Everything else in the payload is ignored.
type WebhookUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      struct {
			ID        int64  `json:"id"`
			FirstName string `json:"first_name"`
			Username  string `json:"username"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		From struct {
			ID        int64  `json:"id"`
			FirstName string `json:"first_name"`
			Username  string `json:"username"`
		} `json:"from"`
		Message *struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
		Data string `json:"data"`
	} `json:"callback_query"`
}
