package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Fok-It</title>
  <item>
    <title>Monday mood</title>
    <link>https://comics.example.com/fokit/2024-06-10</link>
    <pubDate>Mon, 10 Jun 2024 00:05:00 +0300</pubDate>
    <enclosure url="https://comics.example.com/fokit/2024-06-10.png" type="image/png" length="12345"/>
  </item>
  <item>
    <title>Sunday special</title>
    <link>https://comics.example.com/fokit/2024-06-09</link>
    <pubDate>Sun, 09 Jun 2024 00:05:00 +0300</pubDate>
    <enclosure url="https://comics.example.com/fokit/2024-06-09.png" type="image/png" length="12345"/>
  </item>
</channel>
</rss>`

const descriptionImgRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>xkcd.com</title>
  <item>
    <title>Compiling</title>
    <link>https://xkcd.com/303/</link>
    <pubDate>Mon, 10 Jun 2024 04:00:00 -0000</pubDate>
    <description>&lt;img src="https://imgs.xkcd.com/comics/compiling.png" title="Compiling" /&gt;</description>
  </item>
</channel>
</rss>`

func rssServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchLatestPicksNewestItem(t *testing.T) {
	srv := rssServer(t, sampleRSS, http.StatusOK)
	src := NewRSSSource(map[string]string{"fokit": srv.URL})

	strip, err := src.FetchLatest(context.Background(), "fokit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strip.Title != "Monday mood" {
		t.Errorf("title = %q, want newest item", strip.Title)
	}
	if strip.ImageURL != "https://comics.example.com/fokit/2024-06-10.png" {
		t.Errorf("image = %q, want enclosure URL", strip.ImageURL)
	}
	loc, _ := time.LoadLocation("Europe/Helsinki")
	if got := strip.DateIn(loc); got != "2024-06-10" {
		t.Errorf("date in Helsinki = %s, want 2024-06-10", got)
	}
}

// A strip published minutes after local midnight is still the previous day in
// UTC; the date must come out right in the configured timezone.
func TestStripDateInConfiguredTimezone(t *testing.T) {
	srv := rssServer(t, sampleRSS, http.StatusOK)
	src := NewRSSSource(map[string]string{"fokit": srv.URL})

	strip, err := src.FetchLatest(context.Background(), "fokit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strip.DateIn(time.UTC); got != "2024-06-09" {
		t.Errorf("date in UTC = %s, want 2024-06-09", got)
	}
	loc, _ := time.LoadLocation("Europe/Helsinki")
	if got := strip.DateIn(loc); got != "2024-06-10" {
		t.Errorf("date in Helsinki = %s, want 2024-06-10", got)
	}
}

func TestFetchLatestImageFromDescription(t *testing.T) {
	srv := rssServer(t, descriptionImgRSS, http.StatusOK)
	src := NewRSSSource(map[string]string{"xkcd": srv.URL})

	strip, err := src.FetchLatest(context.Background(), "xkcd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strip.ImageURL != "https://imgs.xkcd.com/comics/compiling.png" {
		t.Errorf("image = %q, want img src from description", strip.ImageURL)
	}
}

func TestFetchLatestUnknownComic(t *testing.T) {
	src := NewRSSSource(map[string]string{})
	_, err := src.FetchLatest(context.Background(), "nope")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
}

func TestFetchLatestHTTPError(t *testing.T) {
	srv := rssServer(t, "gone", http.StatusInternalServerError)
	src := NewRSSSource(map[string]string{"fokit": srv.URL})

	_, err := src.FetchLatest(context.Background(), "fokit")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
}

func TestFetchLatestEmptyFeed(t *testing.T) {
	srv := rssServer(t, `<?xml version="1.0"?><rss version="2.0"><channel><title>empty</title></channel></rss>`, http.StatusOK)
	src := NewRSSSource(map[string]string{"fokit": srv.URL})

	_, err := src.FetchLatest(context.Background(), "fokit")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
}

func TestFetchLatestHonorsContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	src := NewRSSSource(map[string]string{"fokit": srv.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := src.FetchLatest(ctx, "fokit")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want *FetchError on deadline", err)
	}
}
