package telegram

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"eventcrafter/internal/logger"
)

// ErrNotModified is returned when an edit produced identical content. The
// anchor-sync path treats it as success.
var ErrNotModified = errors.New("message is not modified")

// Button is one inline keyboard button.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// Client is a minimal Telegram Bot API client covering only the calls the
// bot makes. Message ids pass through as opaque strings.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Logger  *logger.Logger
}

func NewClient(baseURL, token string, httpClient *http.Client, log *logger.Logger) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    httpClient,
		Logger:  log,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (c *Client) call(method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.BaseURL, c.Token, method)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.Logger.Error("TELEGRAM", fmt.Sprintf("close %s response body: %v", method, err))
		}
	}(resp.Body)

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !parsed.OK {
		if strings.Contains(parsed.Description, "message is not modified") {
			return nil, ErrNotModified
		}
		return nil, fmt.Errorf("%s failed: %s", method, parsed.Description)
	}
	return parsed.Result, nil
}

func (c *Client) sendAndExtractID(method string, payload map[string]any) (string, error) {
	result, err := c.call(method, payload)
	if err != nil {
		return "", err
	}
	var msg struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(result, &msg); err != nil {
		return "", fmt.Errorf("decode %s result: %w", method, err)
	}
	return fmt.Sprintf("%d", msg.MessageID), nil
}

func (c *Client) SendMessage(chatID, text string) (string, error) {
	return c.sendAndExtractID("sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
}

func (c *Client) SendMessageWithButtons(chatID, text string, buttons []Button) (string, error) {
	return c.sendAndExtractID("sendMessage", map[string]any{
		"chat_id":      chatID,
		"text":         text,
		"reply_markup": inlineKeyboard(buttons),
	})
}

func (c *Client) EditMessage(chatID, messageID, text string, buttons []Button) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	if len(buttons) > 0 {
		payload["reply_markup"] = inlineKeyboard(buttons)
	}
	_, err := c.call("editMessageText", payload)
	return err
}

func (c *Client) PinMessage(chatID, messageID string) error {
	_, err := c.call("pinChatMessage", map[string]any{
		"chat_id":              chatID,
		"message_id":           messageID,
		"disable_notification": true,
	})
	return err
}

func (c *Client) UnpinMessage(chatID, messageID string) error {
	_, err := c.call("unpinChatMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	return err
}

func (c *Client) DeleteMessage(chatID, messageID string) error {
	_, err := c.call("deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	return err
}

func inlineKeyboard(buttons []Button) map[string]any {
	row := make([]map[string]string, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, map[string]string{
			"text":          b.Text,
			"callback_data": b.CallbackData,
		})
	}
	return map[string]any{
		"inline_keyboard": [][]map[string]string{row},
	}
}
