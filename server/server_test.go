package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rubusbot/rubus/db"
	"github.com/rubusbot/rubus/poster"
	"github.com/rubusbot/rubus/schedule"
	"github.com/rubusbot/rubus/testutil"
)

type fakeForcePoster struct {
	calls   []string
	lastLoc *time.Location
	outcome poster.Outcome
	err     error
}

func (f *fakeForcePoster) ForcePost(_ context.Context, comicID, chatID string, loc *time.Location) (poster.Outcome, error) {
	f.calls = append(f.calls, comicID+"|"+chatID)
	f.lastLoc = loc
	return f.outcome, f.err
}

func testHandlers(fp *fakeForcePoster) *Handlers {
	entries, _ := schedule.ParseEntries("fokit@09:00@Europe/Helsinki@42")
	return &Handlers{
		Poster:  fp,
		Entries: entries,
		Comics:  map[string]string{"fokit": "https://example.com/fokit.rss"},
	}
}

func TestHandleAdminPost(t *testing.T) {
	fp := &fakeForcePoster{outcome: poster.OutcomePosted}
	h := testHandlers(fp)

	req := httptest.NewRequest(http.MethodPost, "/admin/post?comic=fokit&chat=42", nil)
	w := httptest.NewRecorder()
	h.HandleAdminPost(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	if len(fp.calls) != 1 || fp.calls[0] != "fokit|42" {
		t.Fatalf("ForcePost calls = %v, want [fokit|42]", fp.calls)
	}
	if fp.lastLoc == nil || fp.lastLoc.String() != "Europe/Helsinki" {
		t.Errorf("location = %v, want schedule entry timezone", fp.lastLoc)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp["outcome"] != "posted" {
		t.Errorf("outcome = %v, want posted", resp["outcome"])
	}
}

func TestHandleAdminPostRejectsBadRequests(t *testing.T) {
	h := testHandlers(&fakeForcePoster{outcome: poster.OutcomePosted})

	for _, tc := range []struct {
		method, target string
		want           int
	}{
		{http.MethodGet, "/admin/post?comic=fokit&chat=42", http.StatusMethodNotAllowed},
		{http.MethodPost, "/admin/post?comic=fokit", http.StatusBadRequest},
		{http.MethodPost, "/admin/post?chat=42", http.StatusBadRequest},
		{http.MethodPost, "/admin/post?comic=dilbert&chat=42", http.StatusNotFound},
	} {
		req := httptest.NewRequest(tc.method, tc.target, nil)
		w := httptest.NewRecorder()
		h.HandleAdminPost(w, req)
		if w.Code != tc.want {
			t.Errorf("%s %s: status = %d, want %d", tc.method, tc.target, w.Code, tc.want)
		}
	}
}

func TestHandleAdminPostFailureIsBadGateway(t *testing.T) {
	fp := &fakeForcePoster{outcome: poster.OutcomeFetchFailed, err: errors.New("feed on fire")}
	h := testHandlers(fp)

	req := httptest.NewRequest(http.MethodPost, "/admin/post?comic=fokit&chat=42", nil)
	w := httptest.NewRecorder()
	h.HandleAdminPost(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] == nil {
		t.Error("response missing error field")
	}
}

// Posted with a record error still acks success; the error rides along as a
// warning so operators notice.
func TestHandleAdminPostPostedWithWarning(t *testing.T) {
	fp := &fakeForcePoster{outcome: poster.OutcomePosted, err: errors.New("record failed")}
	h := testHandlers(fp)

	req := httptest.NewRequest(http.MethodPost, "/admin/post?comic=fokit&chat=42", nil)
	w := httptest.NewRecorder()
	h.HandleAdminPost(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["outcome"] != "posted" || resp["warning"] == nil {
		t.Errorf("response = %v, want posted outcome with warning", resp)
	}
}

func TestAdminAuthToken(t *testing.T) {
	cfg := &authConfig{adminToken: "s3cret", enabled: true}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	protected := adminAuth(ok, cfg)

	req := httptest.NewRequest(http.MethodPost, "/admin/post", nil)
	w := httptest.NewRecorder()
	protected.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/post", nil)
	req.Header.Set("X-Admin-Token", "s3cret")
	w = httptest.NewRecorder()
	protected.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status with token = %d, want 204", w.Code)
	}
}

func TestAdminAuthBasic(t *testing.T) {
	cfg := &authConfig{adminUsername: "admin", adminPassword: "hunter2", enabled: true}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	protected := adminAuth(ok, cfg)

	req := httptest.NewRequest(http.MethodPost, "/admin/post", nil)
	req.SetBasicAuth("admin", "wrong")
	w := httptest.NewRecorder()
	protected.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status with wrong password = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/post", nil)
	req.SetBasicAuth("admin", "hunter2")
	w = httptest.NewRecorder()
	protected.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status with credentials = %d, want 204", w.Code)
	}
}

func TestHealthAndStatusEndpoints(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	if err := db.RecordDelivered(ctx, database, "fokit", "42", "2024-06-10"); err != nil && !errors.Is(err, db.ErrDuplicateDelivery) {
		t.Fatalf("seed delivery: %v", err)
	}
	db.SetHeartbeat(ctx, database, "job_schedule_last")

	h := testHandlers(&fakeForcePoster{outcome: poster.OutcomePosted})
	h.DB = database
	mux := NewMux(h)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: status = %d, want 200", path, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /status: status = %d", w.Code)
	}
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("missing X-Correlation-ID header")
	}
	var status map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	for _, key := range []string{"schedule", "comics", "last_tick", "recent_deliveries"} {
		if _, ok := status[key]; !ok {
			t.Errorf("status missing %q", key)
		}
	}
}

func TestReadyzFailsWithoutSchedule(t *testing.T) {
	database := testutil.SetupTestDB(t)
	h := &Handlers{DB: database}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	h.HandleReadyz(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 with no schedule entries", w.Code)
	}
	var resp map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["failed_check"] != "schedule" {
		t.Errorf("failed_check = %q, want schedule", resp["failed_check"])
	}
}
