package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rubusbot/rubus/db"
	"github.com/rubusbot/rubus/poster"
	"github.com/rubusbot/rubus/schedule"
)

// ForcePoster is the manual trigger capability; satisfied by *poster.Poster.
type ForcePoster interface {
	ForcePost(ctx context.Context, comicID, chatID string, loc *time.Location) (poster.Outcome, error)
}

// Handlers carries dependencies for the HTTP endpoints.
type Handlers struct {
	DB      *sql.DB
	Poster  ForcePoster
	Entries []schedule.Entry
	Comics  map[string]string // comic id -> feed URL, for /status
}

// HandleHealthz responds to liveness probes by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.DB.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes with detailed checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.DB.PingContext(r.Context()) }},
		{"schedule", func() error {
			if len(h.Entries) == 0 {
				return fmt.Errorf("no schedule entries configured")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

type statusEntry struct {
	Comic string `json:"comic"`
	Chat  string `json:"chat"`
	At    string `json:"at"`
	TZ    string `json:"tz"`
}

type statusDelivery struct {
	Comic    string    `json:"comic"`
	Chat     string    `json:"chat"`
	Date     string    `json:"date"`
	PostedAt time.Time `json:"posted_at"`
}

// HandleStatus reports the configured schedule, the last scheduler heartbeat,
// and recent ledger rows for manual reconciliation.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entries := make([]statusEntry, 0, len(h.Entries))
	for _, e := range h.Entries {
		entries = append(entries, statusEntry{
			Comic: e.ComicID,
			Chat:  e.ChatID,
			At:    fmt.Sprintf("%02d:%02d", e.Hour, e.Minute),
			TZ:    e.TZ,
		})
	}

	recent, err := db.RecentDeliveries(ctx, h.DB, 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	deliveries := make([]statusDelivery, 0, len(recent))
	for _, d := range recent {
		deliveries = append(deliveries, statusDelivery{
			Comic: d.ComicID, Chat: d.ChatID, Date: d.DeliveredDate, PostedAt: d.PostedAt,
		})
	}

	comics := make([]string, 0, len(h.Comics))
	for id := range h.Comics {
		comics = append(comics, id)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"schedule":          entries,
		"comics":            comics,
		"last_tick":         db.GetHeartbeat(ctx, h.DB, "job_schedule_last"),
		"recent_deliveries": deliveries,
	})
}

// HandleAdminPost is the manual "post now" trigger: POST /admin/post?comic=X&chat=Y.
// It reuses the poster's force path and translates the outcome into a JSON ack.
// No independent posting logic lives here.
func (h *Handlers) HandleAdminPost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	comic := r.URL.Query().Get("comic")
	chat := r.URL.Query().Get("chat")
	if comic == "" || chat == "" {
		http.Error(w, "comic and chat query parameters are required", http.StatusBadRequest)
		return
	}
	if _, ok := h.Comics[comic]; !ok {
		http.Error(w, fmt.Sprintf("unknown comic %q", comic), http.StatusNotFound)
		return
	}

	outcome, err := h.Poster.ForcePost(r.Context(), comic, chat, schedule.LocationFor(h.Entries, comic, chat))
	resp := map[string]any{"outcome": outcome.String()}
	status := http.StatusOK
	if err != nil && outcome != poster.OutcomePosted {
		resp["error"] = err.Error()
		status = http.StatusBadGateway
	} else if err != nil {
		// Posted but not cleanly recorded; surface the warning in the ack.
		resp["warning"] = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
