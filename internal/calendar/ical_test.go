package calendar

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/booking-calendar-sync/backend/internal/caldav"
	"github.com/booking-calendar-sync/backend/internal/storage/models"
	"github.com/booking-calendar-sync/backend/internal/testfixtures"
)

func newTestParser() *Parser {
	return NewParser(time.UTC, testfixtures.DiscardLogger())
}

func TestParseEvent_UTCDateTimes(t *testing.T) {
	text := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VEVENT",
		"UID:booking-1",
		"DTSTART:20240304T101530Z",
		"DTEND:20240304T113045Z",
		"SUMMARY:Haircut",
		"STATUS:confirmed",
		"SEQUENCE:3",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n")

	event := newTestParser().ParseEvent(text)
	if event == nil {
		t.Fatal("expected event, got nil")
	}

	wantStart := time.Date(2024, 3, 4, 10, 15, 30, 0, time.UTC)
	wantEnd := time.Date(2024, 3, 4, 11, 30, 45, 0, time.UTC)
	if !event.Start.Equal(wantStart) || event.Start.Location() != time.UTC {
		t.Errorf("start = %v, want %v", event.Start, wantStart)
	}
	if !event.End.Equal(wantEnd) {
		t.Errorf("end = %v, want %v", event.End, wantEnd)
	}
	if event.UID != "booking-1" || event.Summary != "Haircut" {
		t.Errorf("unexpected uid/summary: %q %q", event.UID, event.Summary)
	}
	if event.Status != "CONFIRMED" {
		t.Errorf("status = %q, want CONFIRMED", event.Status)
	}
	if event.Sequence != 3 {
		t.Errorf("sequence = %d, want 3", event.Sequence)
	}
}

func TestParseEvent_AllDayUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	p := NewParser(loc, testfixtures.DiscardLogger())

	event := p.ParseEvent("BEGIN:VEVENT\nUID:booking-2\nDTSTART;VALUE=DATE:20240304\nDTEND;VALUE=DATE:20240305\nEND:VEVENT")
	if event == nil {
		t.Fatal("expected event, got nil")
	}
	want := time.Date(2024, 3, 4, 0, 0, 0, 0, loc)
	if !event.Start.Equal(want) {
		t.Errorf("start = %v, want %v", event.Start, want)
	}
}

func TestParseEvent_Unfolding(t *testing.T) {
	text := "BEGIN:VEVENT\r\n" +
		"UID:booking-\r\n 3\r\n" +
		"DESCRIPTION:first line\\nsecond\r\n\t line\\, with comma\r\n" +
		"DTSTART:20240304T100000Z\r\n" +
		"DTEND:20240304T110000Z\r\n" +
		"END:VEVENT\r\n"

	event := newTestParser().ParseEvent(text)
	if event == nil {
		t.Fatal("expected event, got nil")
	}
	if event.UID != "booking-3" {
		t.Errorf("uid = %q, want booking-3", event.UID)
	}
	if want := "first line\nsecond line, with comma"; event.Description != want {
		t.Errorf("description = %q, want %q", event.Description, want)
	}
}

func TestParseEvent_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"missing uid", "BEGIN:VEVENT\nDTSTART:20240304T100000Z\nDTEND:20240304T110000Z\nEND:VEVENT"},
		{"missing start", "BEGIN:VEVENT\nUID:booking-1\nDTEND:20240304T110000Z\nEND:VEVENT"},
		{"missing end", "BEGIN:VEVENT\nUID:booking-1\nDTSTART:20240304T100000Z\nEND:VEVENT"},
		{"local time form", "BEGIN:VEVENT\nUID:booking-1\nDTSTART;TZID=Europe/Berlin:20240304T100000\nDTEND:20240304T110000Z\nEND:VEVENT"},
		{"iso form", "BEGIN:VEVENT\nUID:booking-1\nDTSTART:2024-03-04T10:00:00Z\nDTEND:20240304T110000Z\nEND:VEVENT"},
		{"end before start", "BEGIN:VEVENT\nUID:booking-1\nDTSTART:20240304T110000Z\nDTEND:20240304T100000Z\nEND:VEVENT"},
		{"empty", ""},
	}

	p := newTestParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if event := p.ParseEvent(tt.text); event != nil {
				t.Errorf("expected nil, got %+v", event)
			}
		})
	}
}

func TestParseEvent_IgnoresNestedComponents(t *testing.T) {
	text := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"BEGIN:VTIMEZONE",
		"TZID:Europe/Berlin",
		"BEGIN:STANDARD",
		"DTSTART:19701025T030000",
		"END:STANDARD",
		"END:VTIMEZONE",
		"BEGIN:VEVENT",
		"UID:booking-4",
		"DTSTART:20240304T100000Z",
		"DTEND:20240304T110000Z",
		"BEGIN:VALARM",
		"DESCRIPTION:Reminder",
		"STATUS:CANCELLED",
		"END:VALARM",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\n")

	event := newTestParser().ParseEvent(text)
	if event == nil {
		t.Fatal("expected event, got nil")
	}
	if event.Status != "" || event.Description != "" {
		t.Errorf("alarm properties leaked into event: %+v", event)
	}
}

func TestSplitContentLine_QuotedColon(t *testing.T) {
	name, params, value, ok := splitContentLine(`ATTENDEE;CN="Doe: Jane":mailto:jane@example.com`)
	if !ok || name != "ATTENDEE" || params != `CN="Doe: Jane"` || value != "mailto:jane@example.com" {
		t.Errorf("unexpected split: %q %q %q %v", name, params, value, ok)
	}
}

func TestParseCalendarQueryResponse(t *testing.T) {
	start := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	body := testfixtures.MultistatusBody(
		testfixtures.RemoteObject{UID: "booking-1", Start: start, End: start.Add(time.Hour), ETag: `"e1"`},
		testfixtures.RemoteObject{UID: "booking-2", Start: start, End: start.Add(time.Hour), Status: "CANCELLED", ETag: `"e2"`},
	)

	events, err := newTestParser().ParseCalendarQueryResponse(body)
	if err != nil {
		t.Fatalf("ParseCalendarQueryResponse failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ETag != `"e1"` || events[0].Href != "/calendars/booking-1.ics" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if !events[1].IsCancelled() {
		t.Errorf("expected second event cancelled, got status %q", events[1].Status)
	}
}

func TestParseCalendarQueryResponse_SkipsEntriesWithoutData(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response>
    <href>/cal/missing.ics</href>
    <propstat><prop><getetag>"x"</getetag></prop><status>HTTP/1.1 404 Not Found</status></propstat>
  </response>
  <response>
    <href>/cal/bad.ics</href>
    <propstat><prop><calendar-data xmlns="urn:ietf:params:xml:ns:caldav">BEGIN:VEVENT
UID:booking-9
END:VEVENT</calendar-data></prop></propstat>
  </response>
</multistatus>`)

	events, err := newTestParser().ParseCalendarQueryResponse(body)
	if err != nil {
		t.Fatalf("ParseCalendarQueryResponse failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %+v", events)
	}
}

func TestParseCalendarQueryResponse_EnvelopeErrors(t *testing.T) {
	for name, body := range map[string]string{
		"empty":      "  ",
		"malformed":  "<multistatus><response>",
		"wrong root": "<html><body>login</body></html>",
	} {
		t.Run(name, func(t *testing.T) {
			events, err := newTestParser().ParseCalendarQueryResponse([]byte(body))
			if !errors.Is(err, caldav.ErrEnvelope) {
				t.Fatalf("expected ErrEnvelope, got %v", err)
			}
			if events != nil {
				t.Errorf("expected nil events, got %+v", events)
			}
		})
	}

	events, err := newTestParser().ParseCalendarQueryResponse(testfixtures.MultistatusBody())
	if err != nil || len(events) != 0 {
		t.Errorf("empty multistatus should be a successful empty result, got %v, %v", events, err)
	}
}

func TestBuildCalendarQuery(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	q := BuildCalendarQuery(
		time.Date(2024, 3, 1, 7, 0, 0, 0, loc),
		time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	)

	for _, want := range []string{
		`<C:time-range start="20240301T120000Z" end="20240401T000000Z"/>`,
		`<C:comp-filter name="VEVENT">`,
		`<C:calendar-data/>`,
		`<D:getetag/>`,
	} {
		if !strings.Contains(q, want) {
			t.Errorf("expected %q in query:\n%s", want, q)
		}
	}
}

func TestEventIndex(t *testing.T) {
	store := testfixtures.NewStore(t)
	start := testfixtures.ReferenceTime()
	a := store.TrackedBooking(t, "staff-1", "booking-a", start, start.Add(time.Hour))
	b := store.TrackedBooking(t, "staff-1", "booking-b", start.Add(2*time.Hour), start.Add(3*time.Hour))

	empty := ""
	ix := NewEventIndex([]models.Booking{*a, *b, {ID: "untracked"}, {ID: "blank-uid", CalDAVUID: &empty}})
	if ix.Len() != 2 {
		t.Fatalf("expected 2 indexed bookings, got %d", ix.Len())
	}

	got, ok := ix.Match("booking-a")
	if !ok || got.ID != a.ID {
		t.Fatalf("Match(booking-a) = %v, %v", got, ok)
	}
	if _, ok := ix.Match("booking-zzz"); ok {
		t.Error("expected no match for unknown uid")
	}

	unseen := ix.Unseen()
	if len(unseen) != 1 || unseen[0].ID != b.ID {
		t.Errorf("unexpected unseen bookings: %+v", unseen)
	}
}
