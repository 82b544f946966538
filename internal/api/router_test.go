package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/booking-calendar-sync/backend/internal/api"
	"github.com/booking-calendar-sync/backend/internal/api/handlers"
	"github.com/booking-calendar-sync/backend/internal/availability"
	"github.com/booking-calendar-sync/backend/internal/calendar"
	"github.com/booking-calendar-sync/backend/internal/storage/models"
	"github.com/booking-calendar-sync/backend/internal/testfixtures"
	"github.com/booking-calendar-sync/backend/internal/websocket"
)

type fakeReconcile struct {
	mu       sync.Mutex
	from, to time.Time
	result   *models.PassResult
	err      error
}

func (f *fakeReconcile) Trigger(ctx context.Context, from, to time.Time) (*models.PassResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.from, f.to = from, to
	return f.result, f.err
}

type fakeRetry struct {
	result *models.RetryResult
	err    error
}

func (f *fakeRetry) Trigger(ctx context.Context) (*models.RetryResult, error) {
	return f.result, f.err
}

type fakeBusy struct {
	staffID string
	day     time.Time
}

func (f *fakeBusy) Busy(ctx context.Context, staffID string, day time.Time) ([]availability.Interval, error) {
	f.staffID, f.day = staffID, day
	start := time.Date(day.Year(), day.Month(), day.Day(), 10, 0, 0, 0, time.UTC)
	return []availability.Interval{{Start: start, End: start.Add(time.Hour), BookingID: "b-1", Status: models.BookingStatusConfirmed}}, nil
}

type apiHarness struct {
	store     *testfixtures.Store
	reconcile *fakeReconcile
	retry     *fakeRetry
	busy      *fakeBusy
	services  api.Services
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	store := testfixtures.NewStore(t)
	h := &apiHarness{
		store:     store,
		reconcile: &fakeReconcile{result: &models.PassResult{}},
		retry:     &fakeRetry{result: &models.RetryResult{Scanned: 2, Succeeded: 1, Skipped: 1}},
		busy:      &fakeBusy{},
	}
	h.services = api.Services{
		DB:           store.DB,
		Bookings:     store.Bookings,
		Audit:        store.Audit,
		Availability: h.busy,
		Reconcile:    h.reconcile,
		Retry:        h.retry,
		Location:     time.UTC,
		Logger:       testfixtures.DiscardLogger(),
	}
	return h
}

func (h *apiHarness) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	api.NewRouter(h.services).ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var body struct {
		Status      string `json:"status"`
		DBConnected bool   `json:"db_connected"`
	}
	decode(t, rec, &body)
	if body.Status != "healthy" || !body.DBConnected {
		t.Errorf("unexpected health: %+v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestBasicAuth(t *testing.T) {
	h := newAPIHarness(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	h.services.AdminUsername = "admin"
	h.services.AdminPasswordHash = string(hash)
	router := api.NewRouter(h.services)

	tests := []struct {
		name       string
		path       string
		user, pass string
		want       int
	}{
		{"health is open", "/api/health", "", "", http.StatusOK},
		{"missing credentials", "/api/bookings", "", "", http.StatusUnauthorized},
		{"wrong password", "/api/bookings", "admin", "nope", http.StatusUnauthorized},
		{"wrong user", "/api/bookings", "root", "s3cret", http.StatusUnauthorized},
		{"valid", "/api/bookings", "admin", "s3cret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate challenge")
			}
		})
	}
}

func TestTriggerReconcile_DefaultWindow(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/reconcile")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if !h.reconcile.from.IsZero() || !h.reconcile.to.IsZero() {
		t.Errorf("expected zero bounds for the default window, got %v..%v", h.reconcile.from, h.reconcile.to)
	}
	var body handlers.ReconcileResponse
	decode(t, rec, &body)
	if body.Status != "success" {
		t.Errorf("status = %q, want success", body.Status)
	}
}

func TestTriggerReconcile_ExplicitWindow(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/reconcile?from=2024-03-01T00:00:00Z&to=2024-03-08T00:00:00%2B02:00")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC); !h.reconcile.from.Equal(want) {
		t.Errorf("from = %v, want %v", h.reconcile.from, want)
	}
	if want := time.Date(2024, 3, 7, 22, 0, 0, 0, time.UTC); !h.reconcile.to.Equal(want) {
		t.Errorf("to = %v, want %v", h.reconcile.to, want)
	}
}

func TestTriggerReconcile_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		want   int
	}{
		{"bad from", "/api/reconcile?from=yesterday", nil, http.StatusBadRequest},
		{"bad to", "/api/reconcile?to=2024-03-01", nil, http.StatusBadRequest},
		{"inverted window", "/api/reconcile", calendar.ErrInvalidWindow, http.StatusBadRequest},
		{"store failure", "/api/reconcile", errors.New("database is locked"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPIHarness(t)
			h.reconcile.err = tt.err
			if tt.err != nil {
				h.reconcile.result = nil
			}
			rec := h.do(t, http.MethodPost, tt.target)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestTriggerReconcile_PartialFailure(t *testing.T) {
	h := newAPIHarness(t)
	h.reconcile.result = &models.PassResult{
		Totals: models.ReconciliationResult{Processed: 3},
		Failed: []string{"staff-2"},
	}
	h.reconcile.err = &calendar.PartialFailureError{
		StaffIDs: []string{"staff-2"},
		Errs:     []error{errors.New("calendar server returned status 500")},
	}

	rec := h.do(t, http.MethodPost, "/api/reconcile")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var body handlers.ReconcileResponse
	decode(t, rec, &body)
	if body.Status != "partial" || body.Result.Totals.Processed != 3 {
		t.Errorf("unexpected body: %+v", body)
	}
	if len(body.Errors) != 1 || !strings.HasPrefix(body.Errors[0], "staff-2: ") {
		t.Errorf("unexpected errors: %v", body.Errors)
	}
}

func TestTriggerRetry(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/retry")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got models.RetryResult
	decode(t, rec, &got)
	if got != *h.retry.result {
		t.Errorf("result = %+v, want %+v", got, *h.retry.result)
	}

	h.retry.err = errors.New("listing failed bookings: disk I/O error")
	if rec := h.do(t, http.MethodPost, "/api/retry"); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestListBookings(t *testing.T) {
	h := newAPIHarness(t)
	start := testfixtures.ReferenceTime()
	b := h.store.TrackedBooking(t, "staff-1", "booking-a", start, start.Add(time.Hour))
	h.store.TrackedBooking(t, "staff-1", "booking-b", start.Add(2*time.Hour), start.Add(3*time.Hour))
	ok, err := h.store.Bookings.TransitionStatus(context.Background(), b.ID, models.BookingStatusConfirmed, models.BookingStatusConflicted)
	if err != nil || !ok {
		t.Fatalf("TransitionStatus = %v, %v", ok, err)
	}

	rec := h.do(t, http.MethodGet, "/api/bookings")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var conflicted []models.Booking
	decode(t, rec, &conflicted)
	if len(conflicted) != 1 || conflicted[0].ID != b.ID {
		t.Errorf("expected only the conflicted booking, got %+v", conflicted)
	}

	var confirmed []models.Booking
	decode(t, h.do(t, http.MethodGet, "/api/bookings?status=confirmed"), &confirmed)
	if len(confirmed) != 1 {
		t.Errorf("expected 1 confirmed booking, got %d", len(confirmed))
	}

	var cancelled []models.Booking
	rec = h.do(t, http.MethodGet, "/api/bookings?status=cancelled")
	decode(t, rec, &cancelled)
	if cancelled == nil || len(cancelled) != 0 {
		t.Errorf("expected an empty JSON array, got %s", rec.Body)
	}

	if rec := h.do(t, http.MethodGet, "/api/bookings?status=archived"); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListAudit(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	for _, msg := range []string{"first", "second", "third"} {
		if err := h.store.Audit.Append(ctx, &models.AuditEntry{Level: models.AuditLevelInfo, Source: "test", Message: msg}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	var entries []models.AuditEntry
	decode(t, h.do(t, http.MethodGet, "/api/audit?limit=2"), &entries)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	for _, bad := range []string{"0", "-1", "ten"} {
		if rec := h.do(t, http.MethodGet, "/api/audit?limit="+bad); rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", bad, rec.Code)
		}
	}
}

func TestGetAvailability(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/staff/staff-1/availability?date=2024-03-04")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if h.busy.staffID != "staff-1" || !h.busy.day.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected query: %q %v", h.busy.staffID, h.busy.day)
	}

	var body struct {
		StaffID string                  `json:"staff_id"`
		Date    string                  `json:"date"`
		Busy    []availability.Interval `json:"busy"`
	}
	decode(t, rec, &body)
	if body.Date != "2024-03-04" || len(body.Busy) != 1 || body.Busy[0].BookingID != "b-1" {
		t.Errorf("unexpected body: %+v", body)
	}

	for _, target := range []string{
		"/api/staff/staff-1/availability",
		"/api/staff/staff-1/availability?date=04.03.2024",
	} {
		if rec := h.do(t, http.MethodGet, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestWebSocketPing(t *testing.T) {
	h := newAPIHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := websocket.NewHub(testfixtures.DiscardLogger())
	go hub.Run(ctx)
	h.services.Hub = hub

	server := httptest.NewServer(api.NewRouter(h.services))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg websocket.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg.Type != websocket.TypePong {
		t.Errorf("type = %q, want pong", msg.Type)
	}
}
