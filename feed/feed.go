// Package feed defines the strip content source capability and its RSS
// implementation. Future sources (weather, Reddit, calendar) plug in behind
// the same Source interface instead of growing the poster with branches.
package feed

import (
	"context"
	"fmt"
	"time"
)

// Strip is one dated unit of comic content. It lives for the duration of a
// single check and is never persisted.
type Strip struct {
	ComicID   string
	Published time.Time
	Title     string
	ImageURL  string
	PageURL   string
}

// DateIn returns the strip's calendar date in the given timezone, formatted
// YYYY-MM-DD. Date comparisons must always go through a configured location,
// never the host's local date.
func (s *Strip) DateIn(loc *time.Location) string {
	return s.Published.In(loc).Format("2006-01-02")
}

// Source is the fetch capability consumed by the poster.
type Source interface {
	// FetchLatest returns the newest available strip for a comic.
	FetchLatest(ctx context.Context, comicID string) (*Strip, error)
	// Describe names the source for logs and /status.
	Describe() string
}

// FetchError wraps transport or parse failures from a source. Transient:
// callers retry on the next scheduler tick.
type FetchError struct {
	ComicID string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.ComicID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
