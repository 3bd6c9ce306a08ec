package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rubusbot/rubus/feed"
)

// Telegram sends via the Bot API over plain HTTP. APIBase is overridable for
// tests; it defaults to api.telegram.org.
type Telegram struct {
	Token      string
	APIBase    string
	HTTPClient *http.Client
}

// NewTelegram returns a Bot API sender for the given token.
func NewTelegram(token string) *Telegram {
	return &Telegram{Token: token}
}

func (t *Telegram) base() string {
	if t.APIBase != "" {
		return t.APIBase
	}
	return "https://api.telegram.org"
}

func (t *Telegram) client() *http.Client {
	if t.HTTPClient != nil {
		return t.HTTPClient
	}
	return http.DefaultClient
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// call posts a JSON payload to a Bot API method and checks the ok flag.
func (t *Telegram) call(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := t.base() + "/bot" + t.Token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.client().Do(req)
	if err != nil {
		return scrub(err, t.Token)
	}
	defer func() { _ = res.Body.Close() }()

	var tr telegramResponse
	if err := json.NewDecoder(res.Body).Decode(&tr); err != nil {
		return fmt.Errorf("decode response (HTTP %d): %w", res.StatusCode, err)
	}
	if !tr.OK {
		return fmt.Errorf("telegram: %s (HTTP %d)", tr.Description, res.StatusCode)
	}
	return nil
}

// SendStrip posts the strip image with a caption, falling back to a text
// message with the page link when the feed carried no image.
func (t *Telegram) SendStrip(ctx context.Context, chatID string, strip *feed.Strip) error {
	caption := strip.Title
	if caption == "" {
		caption = strip.ComicID + " of the day"
	}
	var err error
	if strip.ImageURL != "" {
		err = t.call(ctx, "sendPhoto", map[string]any{
			"chat_id":              chatID,
			"photo":                strip.ImageURL,
			"caption":              caption,
			"disable_notification": true,
		})
	} else {
		err = t.call(ctx, "sendMessage", map[string]any{
			"chat_id": chatID,
			"text":    caption + "\n" + strip.PageURL,
		})
	}
	if err != nil {
		return &TransportError{ChatID: chatID, Err: err}
	}
	return nil
}

func (t *Telegram) SendMessage(ctx context.Context, chatID string, text string) error {
	if err := t.call(ctx, "sendMessage", map[string]any{"chat_id": chatID, "text": text}); err != nil {
		return &TransportError{ChatID: chatID, Err: err}
	}
	return nil
}

// scrub keeps the bot token out of logged transport errors.
func scrub(err error, token string) error {
	if err == nil || token == "" {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), token, "[EXPUNGED]")
	return fmt.Errorf("%s", msg)
}
