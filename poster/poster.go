// Package poster orchestrates one delivery check: fetch the latest strip,
// compare its date against "today" in the schedule entry's timezone, consult
// the ledger, send, record.
package poster

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rubusbot/rubus/chat"
	"github.com/rubusbot/rubus/db"
	"github.com/rubusbot/rubus/feed"
	"github.com/rubusbot/rubus/telemetry"
)

// Outcome of a single check.
type Outcome int

const (
	// OutcomeNone means the check errored before reaching a terminal outcome
	// (transport or storage fault); retried on the next tick.
	OutcomeNone Outcome = iota
	// OutcomePosted: the strip was sent and (normally) recorded.
	OutcomePosted
	// OutcomeAlreadyDelivered: the ledger already holds today's record.
	OutcomeAlreadyDelivered
	// OutcomeFeedNotUpdated: the feed still serves an older strip.
	OutcomeFeedNotUpdated
	// OutcomeFetchFailed: the source errored; retried on the next tick.
	OutcomeFetchFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePosted:
		return "posted"
	case OutcomeAlreadyDelivered:
		return "already_delivered"
	case OutcomeFeedNotUpdated:
		return "feed_not_updated"
	case OutcomeFetchFailed:
		return "fetch_failed"
	default:
		return "none"
	}
}

// Ledger is the durable dedup record consumed by the poster.
// db.LedgerAdapter is the Postgres implementation.
type Ledger interface {
	HasDelivered(ctx context.Context, comicID, chatID, date string) (bool, error)
	RecordDelivered(ctx context.Context, comicID, chatID, date string) error
}

// Poster wires the fetch, transport, and ledger capabilities together.
// All fields are read-only after construction; the ledger is the only shared
// mutable state, so concurrent checks for different entries are safe.
type Poster struct {
	Ledger Ledger
	Source feed.Source
	Sender chat.Sender

	// Per-call bounds so a hung network call cannot stall other entries.
	FetchTimeout time.Duration
	SendTimeout  time.Duration
}

func (p *Poster) fetchTimeout() time.Duration {
	if p.FetchTimeout > 0 {
		return p.FetchTimeout
	}
	return 30 * time.Second
}

func (p *Poster) sendTimeout() time.Duration {
	if p.SendTimeout > 0 {
		return p.SendTimeout
	}
	return 30 * time.Second
}

// CheckAndPost posts the strip for comicID to chatID iff the feed already
// serves today's strip and the ledger has no record for (comic, chat, today).
// today is the calendar date in loc, which must be the schedule entry's
// configured timezone; the host-local date is never consulted.
//
// A send that succeeds but fails to record still returns OutcomePosted along
// with the record error: at-least-once post, at-most-once record.
func (p *Poster) CheckAndPost(ctx context.Context, comicID, chatID, today string, loc *time.Location) (Outcome, error) {
	logger := slog.Default().With(
		slog.String("comic", comicID),
		slog.String("chat", chatID),
		slog.String("date", today),
	)

	strip, outcome, err := p.fetch(ctx, comicID, logger)
	if err != nil {
		return outcome, err
	}

	if got := strip.DateIn(loc); got != today {
		logger.Debug("feed not updated yet", slog.String("feed_date", got))
		telemetry.CountOutcome(OutcomeFeedNotUpdated.String())
		return OutcomeFeedNotUpdated, nil
	}

	return p.deliver(ctx, strip, chatID, today, logger)
}

// ForcePost posts whatever the feed currently returns, skipping the
// today-equality check. The ledger is still consulted, keyed by the strip's
// own published date in loc, so repeated manual triggers stay idempotent.
func (p *Poster) ForcePost(ctx context.Context, comicID, chatID string, loc *time.Location) (Outcome, error) {
	logger := slog.Default().With(
		slog.String("comic", comicID),
		slog.String("chat", chatID),
		slog.Bool("forced", true),
	)

	strip, outcome, err := p.fetch(ctx, comicID, logger)
	if err != nil {
		return outcome, err
	}
	date := strip.DateIn(loc)
	return p.deliver(ctx, strip, chatID, date, logger.With(slog.String("date", date)))
}

func (p *Poster) fetch(ctx context.Context, comicID string, logger *slog.Logger) (*feed.Strip, Outcome, error) {
	fctx, cancel := context.WithTimeout(ctx, p.fetchTimeout())
	defer cancel()
	strip, err := p.Source.FetchLatest(fctx, comicID)
	if err != nil {
		logger.Warn("strip fetch failed", slog.Any("err", err))
		telemetry.FetchFailures.Inc()
		telemetry.CountOutcome(OutcomeFetchFailed.String())
		return nil, OutcomeFetchFailed, err
	}
	return strip, OutcomeNone, nil
}

func (p *Poster) deliver(ctx context.Context, strip *feed.Strip, chatID, date string, logger *slog.Logger) (Outcome, error) {
	has, err := p.Ledger.HasDelivered(ctx, strip.ComicID, chatID, date)
	if err != nil {
		logger.Error("ledger read failed", slog.Any("err", err))
		return OutcomeNone, err
	}
	if has {
		logger.Debug("already delivered")
		telemetry.CountOutcome(OutcomeAlreadyDelivered.String())
		return OutcomeAlreadyDelivered, nil
	}

	sctx, cancel := context.WithTimeout(ctx, p.sendTimeout())
	defer cancel()
	start := time.Now()
	err = p.Sender.SendStrip(sctx, chatID, strip)
	telemetry.ObserveSend(time.Since(start))
	if err != nil {
		// Not recorded: a partial send must be retried, not remembered.
		logger.Warn("strip send failed", slog.Any("err", err))
		telemetry.SendFailures.Inc()
		return OutcomeNone, err
	}

	if err := p.Ledger.RecordDelivered(ctx, strip.ComicID, chatID, date); err != nil {
		if errors.Is(err, db.ErrDuplicateDelivery) {
			// Lost a race after sending: the strip may have gone out twice,
			// but the ledger stays single-record. Loud, not fatal.
			logger.Warn("delivery already recorded by a concurrent check; possible duplicate post")
			telemetry.CountOutcome(OutcomePosted.String())
			return OutcomePosted, err
		}
		logger.Error("posted but failed to record delivery; manual reconciliation may be needed", slog.Any("err", err))
		telemetry.CountOutcome(OutcomePosted.String())
		return OutcomePosted, err
	}

	logger.Info("strip posted", slog.String("title", strip.Title))
	telemetry.CountOutcome(OutcomePosted.String())
	return OutcomePosted, nil
}
