package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/rubusbot/rubus/feed"
)

// Twitch sends strips as chat lines over IRC. Twitch chat cannot carry
// images, so a strip becomes a "<title> <link>" line. Chat ids use the
// "twitch:<channel>" scheme.
type Twitch struct {
	client *twitch.Client

	mu    sync.Mutex
	ready bool
}

// NewTwitch returns an IRC sender authenticated with the bot username and
// oauth token ("oauth:..." form).
func NewTwitch(username, oauthToken string) *Twitch {
	return &Twitch{client: twitch.NewClient(username, oauthToken)}
}

// Start connects to Twitch IRC in the background and disconnects when ctx is
// canceled. Safe to call once at startup.
func (t *Twitch) Start(ctx context.Context) {
	t.client.OnConnect(func() {
		t.mu.Lock()
		t.ready = true
		t.mu.Unlock()
		slog.Info("twitch chat connected")
	})
	go func() {
		<-ctx.Done()
		_ = t.client.Disconnect()
	}()
	go func() {
		if err := t.client.Connect(); err != nil && ctx.Err() == nil {
			slog.Error("twitch chat connect error", slog.Any("err", err))
		}
	}()
}

func (t *Twitch) isReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

// channel strips the "twitch:" scheme from a chat id.
func channel(chatID string) string {
	return strings.TrimPrefix(chatID, "twitch:")
}

func (t *Twitch) say(ctx context.Context, chatID, line string) error {
	// Say is fire-and-forget on the IRC connection; refuse while disconnected
	// so an unsent strip is retried next tick instead of silently dropped.
	deadline := time.After(2 * time.Second)
	for !t.isReady() {
		select {
		case <-ctx.Done():
			return &TransportError{ChatID: chatID, Err: ctx.Err()}
		case <-deadline:
			return &TransportError{ChatID: chatID, Err: fmt.Errorf("twitch chat not connected")}
		case <-time.After(50 * time.Millisecond):
		}
	}
	ch := channel(chatID)
	t.client.Join(ch)
	t.client.Say(ch, line)
	return nil
}

func (t *Twitch) SendStrip(ctx context.Context, chatID string, strip *feed.Strip) error {
	title := strip.Title
	if title == "" {
		title = strip.ComicID + " of the day"
	}
	link := strip.PageURL
	if link == "" {
		link = strip.ImageURL
	}
	return t.say(ctx, chatID, title+" "+link)
}

func (t *Twitch) SendMessage(ctx context.Context, chatID string, text string) error {
	return t.say(ctx, chatID, text)
}
