// Package schedule runs the daily delivery clock: a minute-granularity ticker
// that decides, per configured entry and in that entry's own timezone,
// whether today's strip check is due.
package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rubusbot/rubus/db"
	"github.com/rubusbot/rubus/poster"
	"github.com/rubusbot/rubus/telemetry"
)

// Entry binds a comic to a destination chat, a time of day, and a timezone.
// Read-only after startup.
type Entry struct {
	ComicID  string
	ChatID   string
	Hour     int
	Minute   int
	TZ       string
	Location *time.Location
}

// ParseEntries parses the SCHEDULES env format: a comma-separated list of
// "comic@HH:MM@timezone@chat", e.g.
// "fokit@12:00@Europe/Helsinki@-1001234,xkcd@09:00@UTC@4242".
func ParseEntries(s string) ([]Entry, error) {
	var entries []Entry
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, "@")
		if len(parts) != 4 {
			return nil, fmt.Errorf("schedule entry %q: want comic@HH:MM@timezone@chat", raw)
		}
		hh, mm, err := parseTimeOfDay(parts[1])
		if err != nil {
			return nil, fmt.Errorf("schedule entry %q: %w", raw, err)
		}
		loc, err := time.LoadLocation(parts[2])
		if err != nil {
			return nil, fmt.Errorf("schedule entry %q: %w", raw, err)
		}
		entries = append(entries, Entry{
			ComicID:  parts[0],
			ChatID:   parts[3],
			Hour:     hh,
			Minute:   mm,
			TZ:       parts[2],
			Location: loc,
		})
	}
	return entries, nil
}

func parseTimeOfDay(s string) (int, int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// LocationFor picks the timezone governing a manual trigger: the matching
// entry's timezone when one exists (exact comic+chat match preferred), UTC
// otherwise.
func LocationFor(entries []Entry, comicID, chatID string) *time.Location {
	for _, e := range entries {
		if e.ComicID == comicID && e.ChatID == chatID {
			return e.Location
		}
	}
	for _, e := range entries {
		if e.ComicID == comicID {
			return e.Location
		}
	}
	return time.UTC
}

// Today is the calendar date at now in the entry's timezone. All date
// comparisons run through this; the host-local date is never used.
func (e *Entry) Today(now time.Time) string {
	return now.In(e.Location).Format("2006-01-02")
}

// Due reports whether the entry's time of day has been reached at now, in the
// entry's timezone. Deliberately "at or past" rather than "exactly at": the
// check itself is idempotent through the ledger, so re-evaluating on every
// tick after the configured time is what retries a stale feed the same day
// and catches up after a mid-day restart.
func (e *Entry) Due(now time.Time) bool {
	local := now.In(e.Location)
	return local.Hour()*60+local.Minute() >= e.Hour*60+e.Minute
}

// Checker is satisfied by *poster.Poster; an interface so scheduler tests run
// against fakes.
type Checker interface {
	CheckAndPost(ctx context.Context, comicID, chatID, today string, loc *time.Location) (poster.Outcome, error)
}

// Scheduler drives all entries sequentially on one logical clock. Per-entry
// "has it fired today" state is derived purely from the ledger inside the
// poster, never from in-process flags.
type Scheduler struct {
	Entries []Entry
	Poster  Checker
	DB      *sql.DB // heartbeat only; may be nil in tests

	// Tick is the wake-up granularity; defaults to one minute.
	Tick time.Duration

	// Now is a clock hook for tests; defaults to time.Now.
	Now func() time.Time
}

func (s *Scheduler) tick() time.Duration {
	if s.Tick > 0 {
		return s.Tick
	}
	return time.Minute
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run loops until ctx is canceled. An immediate pass runs at startup so a
// restart mid-day does not wait a full tick to catch up.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("scheduler starting",
		slog.Int("entries", len(s.Entries)),
		slog.Duration("tick", s.tick()))
	telemetry.SetScheduleEntries(len(s.Entries))

	s.RunOnce(ctx)
	ticker := time.NewTicker(s.tick())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce evaluates every entry once. An error on one entry never aborts the
// checks for the others.
func (s *Scheduler) RunOnce(ctx context.Context) {
	telemetry.SchedulerTicks.Inc()
	if s.DB != nil {
		db.SetHeartbeat(ctx, s.DB, "job_schedule_last")
	}
	now := s.now()
	for i := range s.Entries {
		e := &s.Entries[i]
		if !e.Due(now) {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		s.checkEntry(ctx, e, now)
	}
}

func (s *Scheduler) checkEntry(ctx context.Context, e *Entry, now time.Time) {
	today := e.Today(now)
	sctx, span := telemetry.StartSpan(ctx, "scheduler", "check_entry",
		attribute.String("comic", e.ComicID),
		attribute.String("chat", e.ChatID),
		attribute.String("date", today),
	)
	defer span.End()

	outcome, err := s.Poster.CheckAndPost(sctx, e.ComicID, e.ChatID, today, e.Location)
	if err != nil && outcome != poster.OutcomePosted {
		telemetry.RecordError(span, err)
		slog.Warn("entry check failed",
			slog.String("comic", e.ComicID),
			slog.String("chat", e.ChatID),
			slog.String("date", today),
			slog.String("outcome", outcome.String()),
			slog.Any("err", err))
		return
	}
	span.SetAttributes(attribute.String("outcome", outcome.String()))
}
