package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const userAgent = "rubus/1.0 (+https://github.com/rubusbot/rubus)"

// RSSSource fetches the latest strip of a comic from its RSS/Atom feed.
// Feeds maps comic id to feed URL and is read-only after startup.
type RSSSource struct {
	Feeds      map[string]string
	HTTPClient *http.Client
}

// NewRSSSource returns a source over the given comic feed URLs.
func NewRSSSource(feeds map[string]string) *RSSSource {
	return &RSSSource{Feeds: feeds}
}

func (s *RSSSource) Describe() string { return "rss" }

func (s *RSSSource) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

// FetchLatest downloads and parses the feed for comicID and returns its
// newest item. The deadline on ctx bounds the whole call so a hung feed
// cannot stall the scheduler. All failures come back as *FetchError.
func (s *RSSSource) FetchLatest(ctx context.Context, comicID string) (*Strip, error) {
	url, ok := s.Feeds[comicID]
	if !ok {
		return nil, &FetchError{ComicID: comicID, Err: fmt.Errorf("unknown comic %q", comicID)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{ComicID: comicID, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	res, err := s.client().Do(req)
	if err != nil {
		return nil, &FetchError{ComicID: comicID, Err: err}
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		return nil, &FetchError{ComicID: comicID, Err: fmt.Errorf("feed returned HTTP %d", res.StatusCode)}
	}

	parsed, err := gofeed.NewParser().Parse(res.Body)
	if err != nil {
		return nil, &FetchError{ComicID: comicID, Err: err}
	}
	if len(parsed.Items) == 0 {
		return nil, &FetchError{ComicID: comicID, Err: fmt.Errorf("feed has no items")}
	}

	item := newestItem(parsed.Items)
	if item == nil {
		return nil, &FetchError{ComicID: comicID, Err: fmt.Errorf("feed items carry no usable dates")}
	}

	return &Strip{
		ComicID:   comicID,
		Published: itemTime(item).UTC(),
		Title:     strings.TrimSpace(item.Title),
		ImageURL:  itemImage(item),
		PageURL:   item.Link,
	}, nil
}

// newestItem picks the item with the latest published (or updated) time.
// Feeds usually list newest first but that is not guaranteed.
func newestItem(items []*gofeed.Item) *gofeed.Item {
	var best *gofeed.Item
	for _, it := range items {
		t := itemTime(it)
		if t.IsZero() {
			continue
		}
		if best == nil || t.After(itemTime(best)) {
			best = it
		}
	}
	return best
}

func itemTime(it *gofeed.Item) time.Time {
	if it.PublishedParsed != nil {
		return *it.PublishedParsed
	}
	if it.UpdatedParsed != nil {
		return *it.UpdatedParsed
	}
	return time.Time{}
}

// itemImage extracts the strip image URL: item image, then image enclosures,
// then an <img src> embedded in the description (xkcd style).
func itemImage(it *gofeed.Item) string {
	if it.Image != nil && it.Image.URL != "" {
		return it.Image.URL
	}
	for _, enc := range it.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	for _, body := range []string{it.Content, it.Description} {
		if src := firstImgSrc(body); src != "" {
			return src
		}
	}
	return ""
}

func firstImgSrc(html string) string {
	i := strings.Index(html, "<img")
	if i < 0 {
		return ""
	}
	rest := html[i:]
	j := strings.Index(rest, `src="`)
	if j < 0 {
		return ""
	}
	rest = rest[j+len(`src="`):]
	k := strings.IndexByte(rest, '"')
	if k < 0 {
		return ""
	}
	return rest[:k]
}
