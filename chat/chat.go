// Package chat sends strips and acknowledgments into chats. The poster only
// sees the Sender interface; Telegram and Twitch adapters implement it.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/rubusbot/rubus/feed"
)

// Sender is the chat transport capability consumed by the poster.
type Sender interface {
	// SendStrip delivers one comic strip to a chat. A partial or failed send
	// returns *TransportError and must not be recorded as delivered.
	SendStrip(ctx context.Context, chatID string, strip *feed.Strip) error
	// SendMessage delivers a plain text message (command acknowledgments).
	SendMessage(ctx context.Context, chatID string, text string) error
}

// TransportError wraps chat delivery failures. Transient: callers retry on
// the next scheduler tick.
type TransportError struct {
	ChatID string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send to chat %s: %v", e.ChatID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Router dispatches on the chat id scheme: "twitch:<channel>" goes to the
// Twitch sender, everything else to Telegram.
type Router struct {
	Telegram Sender
	Twitch   Sender
}

func (r *Router) pick(chatID string) (Sender, error) {
	if strings.HasPrefix(chatID, "twitch:") {
		if r.Twitch == nil {
			return nil, fmt.Errorf("twitch transport not configured")
		}
		return r.Twitch, nil
	}
	if r.Telegram == nil {
		return nil, fmt.Errorf("telegram transport not configured")
	}
	return r.Telegram, nil
}

func (r *Router) SendStrip(ctx context.Context, chatID string, strip *feed.Strip) error {
	s, err := r.pick(chatID)
	if err != nil {
		return &TransportError{ChatID: chatID, Err: err}
	}
	return s.SendStrip(ctx, chatID, strip)
}

func (r *Router) SendMessage(ctx context.Context, chatID string, text string) error {
	s, err := r.pick(chatID)
	if err != nil {
		return &TransportError{ChatID: chatID, Err: err}
	}
	return s.SendMessage(ctx, chatID, text)
}
