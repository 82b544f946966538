package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/booking-calendar-sync/backend/internal/storage/models"
	"github.com/booking-calendar-sync/backend/internal/testfixtures"
	"github.com/booking-calendar-sync/backend/internal/websocket"
)

type failingStore struct{}

func (failingStore) Append(ctx context.Context, e *models.AuditEntry) error {
	return errors.New("disk full")
}

func (failingStore) Recent(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	return nil, nil
}

func TestSink_PersistsAndMirrors(t *testing.T) {
	store := testfixtures.NewStore(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	sink := NewSink(store.Audit, nil, logger)
	sink.Log(context.Background(), models.AuditLevelWarn, "caldav_reconcile", "Booking moved onto an occupied slot",
		map[string]any{"uid": "booking-1"}, "b-1", "staff-1")
	sink.Log(context.Background(), models.AuditLevelInfo, "caldav_retry", "no ids", nil, "", "")

	entries, err := sink.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	warn := entries[1]
	if warn.Level != models.AuditLevelWarn || warn.Source != "caldav_reconcile" {
		t.Errorf("unexpected entry: %+v", warn)
	}
	if warn.BookingID == nil || *warn.BookingID != "b-1" || warn.StaffID == nil || *warn.StaffID != "staff-1" {
		t.Errorf("ids not stored: %+v", warn)
	}
	if warn.Context["uid"] != "booking-1" {
		t.Errorf("context not stored: %+v", warn.Context)
	}
	if entries[0].BookingID != nil || entries[0].StaffID != nil {
		t.Errorf("empty ids must be stored as NULL: %+v", entries[0])
	}

	line := strings.SplitN(buf.String(), "\n", 2)[0]
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if record["level"] != "WARN" || record["booking_id"] != "b-1" || record["uid"] != "booking-1" {
		t.Errorf("unexpected mirrored log record: %v", record)
	}
}

func TestSink_StoreFailureDoesNotPropagate(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(failingStore{}, nil, slog.New(slog.NewTextHandler(&buf, nil)))

	sink.Log(context.Background(), models.AuditLevelError, "caldav_retry", "write failed", nil, "b-1", "")

	if !strings.Contains(buf.String(), "failed to persist audit entry") {
		t.Errorf("expected persistence failure to be logged, got %q", buf.String())
	}
}

func TestSink_CancelledContextStillPersists(t *testing.T) {
	store := testfixtures.NewStore(t)
	sink := NewSink(store.Audit, nil, testfixtures.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Log(ctx, models.AuditLevelInfo, "caldav_reconcile", "late entry", nil, "", "")

	entries, err := store.Audit.Recent(context.Background(), 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected entry to be persisted, got %v, %v", entries, err)
	}
}

func TestSink_BroadcastsWarnings(t *testing.T) {
	hub := websocket.NewHub(testfixtures.DiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := websocket.NewClient(hub)
	hub.Register(client)

	sink := NewSink(failingStore{}, hub, testfixtures.DiscardLogger())
	sink.Log(context.Background(), models.AuditLevelInfo, "caldav_reconcile", "quiet", nil, "", "")
	sink.Log(context.Background(), models.AuditLevelError, "caldav_reconcile", "loud", nil, "", "staff-1")

	select {
	case data := <-client.Send():
		var msg struct {
			Type    string                 `json:"type"`
			Payload websocket.AuditPayload `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decoding message: %v", err)
		}
		if msg.Type != string(websocket.TypeAuditEntry) || msg.Payload.Message != "loud" || msg.Payload.StaffID != "staff-1" {
			t.Errorf("unexpected broadcast: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an audit broadcast")
	}
}
