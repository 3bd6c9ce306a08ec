// Package bot long-polls the Telegram Bot API for commands and translates
// them into poster calls. It is a thin adapter: outcome in, acknowledgment
// text out, no posting logic of its own.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rubusbot/rubus/chat"
	"github.com/rubusbot/rubus/poster"
	"github.com/rubusbot/rubus/schedule"
)

// ForcePoster is the manual trigger capability; satisfied by *poster.Poster.
type ForcePoster interface {
	ForcePost(ctx context.Context, comicID, chatID string, loc *time.Location) (poster.Outcome, error)
}

// Bot answers /post and /comics commands in Telegram chats.
type Bot struct {
	Token      string
	APIBase    string // overridable for tests; defaults to api.telegram.org
	HTTPClient *http.Client

	Poster  ForcePoster
	Sender  chat.Sender
	Comics  map[string]string
	Entries []schedule.Entry

	// PollTimeout is the long-poll window; defaults to 30s.
	PollTimeout time.Duration
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type updatesResponse struct {
	OK          bool     `json:"ok"`
	Description string   `json:"description"`
	Result      []update `json:"result"`
}

func (b *Bot) base() string {
	if b.APIBase != "" {
		return b.APIBase
	}
	return "https://api.telegram.org"
}

func (b *Bot) client() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	// Must outlast the long-poll window.
	return &http.Client{Timeout: 50 * time.Second}
}

func (b *Bot) pollTimeout() time.Duration {
	if b.PollTimeout > 0 {
		return b.PollTimeout
	}
	return 30 * time.Second
}

// Run long-polls getUpdates until ctx is canceled. Transport errors back off
// and retry; a dead Telegram connection never takes the process down.
func (b *Bot) Run(ctx context.Context) {
	if b.Token == "" {
		slog.Info("command bot disabled: TELEGRAM_BOT_TOKEN empty")
		return
	}
	slog.Info("command bot starting")
	var offset int64
	for {
		if ctx.Err() != nil {
			slog.Info("command bot stopped")
			return
		}
		updates, err := b.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("command bot stopped")
				return
			}
			slog.Warn("getUpdates failed", slog.Any("err", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			b.handleCommand(ctx, strconv.FormatInt(u.Message.Chat.ID, 10), u.Message.Text)
		}
	}
}

func (b *Bot) getUpdates(ctx context.Context, offset int64) ([]update, error) {
	q := url.Values{}
	q.Set("timeout", strconv.Itoa(int(b.pollTimeout().Seconds())))
	if offset > 0 {
		q.Set("offset", strconv.FormatInt(offset, 10))
	}
	u := b.base() + "/bot" + b.Token + "/getUpdates?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := b.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()
	var ur updatesResponse
	if err := json.NewDecoder(res.Body).Decode(&ur); err != nil {
		return nil, fmt.Errorf("decode getUpdates (HTTP %d): %w", res.StatusCode, err)
	}
	if !ur.OK {
		return nil, fmt.Errorf("telegram: %s (HTTP %d)", ur.Description, res.StatusCode)
	}
	return ur.Result, nil
}

// handleCommand dispatches one message. Unknown text in a command shape gets
// short help; everything else is ignored.
func (b *Bot) handleCommand(ctx context.Context, chatID, text string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return
	}
	cmd, _, _ := strings.Cut(fields[0], "@") // strip /post@botname form

	switch cmd {
	case "/post":
		if len(fields) < 2 {
			b.reply(ctx, chatID, "Usage: /post <comic>")
			return
		}
		b.post(ctx, chatID, fields[1])
	case "/comics":
		b.reply(ctx, chatID, "Available comics: "+strings.Join(b.comicList(), ", "))
	default:
		b.reply(ctx, chatID, "Commands: /post <comic>, /comics")
	}
}

func (b *Bot) post(ctx context.Context, chatID, comicID string) {
	if _, ok := b.Comics[comicID]; !ok {
		b.reply(ctx, chatID, fmt.Sprintf("Unknown comic %q. Try /comics.", comicID))
		return
	}
	loc := schedule.LocationFor(b.Entries, comicID, chatID)
	outcome, err := b.Poster.ForcePost(ctx, comicID, chatID, loc)
	b.reply(ctx, chatID, ackText(comicID, outcome, err))
}

// ackText translates a post outcome into a user-facing acknowledgment.
func ackText(comicID string, outcome poster.Outcome, err error) string {
	switch outcome {
	case poster.OutcomePosted:
		return "" // the strip itself is the acknowledgment
	case poster.OutcomeAlreadyDelivered:
		return fmt.Sprintf("Today's %s has already been posted here.", comicID)
	case poster.OutcomeFetchFailed:
		return fmt.Sprintf("Failed to fetch the latest %s, try again later.", comicID)
	default:
		if err != nil {
			return fmt.Sprintf("Could not post %s: delivery failed, try again later.", comicID)
		}
		return fmt.Sprintf("No %s available right now.", comicID)
	}
}

func (b *Bot) reply(ctx context.Context, chatID, text string) {
	if text == "" {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := b.Sender.SendMessage(rctx, chatID, text); err != nil {
		slog.Warn("command reply failed", slog.String("chat", chatID), slog.Any("err", err))
	}
}

func (b *Bot) comicList() []string {
	ids := make([]string, 0, len(b.Comics))
	for id := range b.Comics {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
