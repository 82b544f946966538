// Package calendar provides iCal parsing and the CalDAV reconciliation engine.
package calendar

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/booking-calendar-sync/backend/internal/caldav"
	"github.com/booking-calendar-sync/backend/internal/storage/models"
)

const (
	utcDateTimeLayout = "20060102T150405Z"
	dateLayout        = "20060102"
)

var textUnescaper = strings.NewReplacer(
	`\\`, `\`,
	`\n`, "\n",
	`\N`, "\n",
	`\,`, ",",
	`\;`, ";",
)

// Parser parses calendar objects returned by CalDAV calendar queries.
type Parser struct {
	loc    *time.Location
	logger *slog.Logger
}

// NewParser creates a new iCal parser. All-day dates are anchored to
// midnight in loc.
func NewParser(loc *time.Location, logger *slog.Logger) *Parser {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{loc: loc, logger: logger.With("component", "ical")}
}

// ParseEvent parses a single VEVENT, either bare or wrapped in a VCALENDAR.
// It returns nil when the event lacks a UID, a start or an end.
func (p *Parser) ParseEvent(text string) *models.RemoteEvent {
	var event models.RemoteEvent
	var stack []string
	done := false

	for _, line := range unfold(text) {
		if done {
			break
		}

		name, params, value, ok := splitContentLine(line)
		if !ok {
			continue
		}

		switch name {
		case "BEGIN":
			stack = append(stack, strings.ToUpper(strings.TrimSpace(value)))
			continue
		case "END":
			if len(stack) > 0 {
				if stack[len(stack)-1] == "VEVENT" && strings.EqualFold(strings.TrimSpace(value), "VEVENT") {
					done = true
				}
				stack = stack[:len(stack)-1]
			}
			continue
		}

		// Only properties of the event itself; nested VALARMs and the
		// surrounding VCALENDAR are ignored.
		if len(stack) > 0 && stack[len(stack)-1] != "VEVENT" {
			continue
		}

		p.setEventField(&event, name, params, value)
	}

	if event.UID == "" || event.Start.IsZero() || event.End.IsZero() {
		return nil
	}
	if !event.Start.Before(event.End) {
		p.logger.Debug("discarding event with empty time range", "uid", event.UID)
		return nil
	}

	return &event
}

// setEventField sets a recognized property on a RemoteEvent.
func (p *Parser) setEventField(event *models.RemoteEvent, name, params, value string) {
	switch name {
	case "UID":
		event.UID = strings.TrimSpace(value)
	case "SUMMARY":
		event.Summary = textUnescaper.Replace(value)
	case "DESCRIPTION":
		event.Description = textUnescaper.Replace(value)
	case "STATUS":
		event.Status = strings.ToUpper(strings.TrimSpace(value))
	case "SEQUENCE":
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			p.logger.Debug("ignoring invalid SEQUENCE", "value", value)
			return
		}
		event.Sequence = n
	case "DTSTART", "DTEND":
		t, err := p.parseDateTime(value)
		if err != nil {
			p.logger.Debug("ignoring unsupported date value",
				"property", name, "params", params, "value", value, "err", err)
			return
		}
		if name == "DTSTART" {
			event.Start = t
		} else {
			event.End = t
		}
	}
}

// parseDateTime accepts a UTC date-time or an all-day date.
func (p *Parser) parseDateTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	switch len(value) {
	case len(utcDateTimeLayout):
		return time.Parse(utcDateTimeLayout, value)
	case len(dateLayout):
		return time.ParseInLocation(dateLayout, value, p.loc)
	}
	return time.Time{}, fmt.Errorf("unsupported date format %q", value)
}

// unfold joins continuation lines onto the line they continue.
func unfold(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSuffix(line, "\r")
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			if len(lines) > 0 {
				lines[len(lines)-1] += line[1:]
			}
			continue
		}
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// splitContentLine splits "NAME;PARAMS:VALUE". Colons inside quoted
// parameter values do not end the name.
func splitContentLine(line string) (name, params, value string, ok bool) {
	inQuotes := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuotes = !inQuotes
		case ':':
			if inQuotes {
				continue
			}
			head := line[:i]
			value = line[i+1:]
			if semi := strings.IndexByte(head, ';'); semi != -1 {
				params = head[semi+1:]
				head = head[:semi]
			}
			return strings.ToUpper(strings.TrimSpace(head)), params, value, head != ""
		}
	}
	return "", "", "", false
}

type multistatus struct {
	XMLName   xml.Name      `xml:"multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href      string     `xml:"href"`
	Propstats []propstat `xml:"propstat"`
}

type propstat struct {
	Status string  `xml:"status"`
	Prop   davProp `xml:"prop"`
}

type davProp struct {
	ETag         string `xml:"getetag"`
	CalendarData string `xml:"calendar-data"`
}

// ParseCalendarQueryResponse extracts the events of a calendar-query
// multistatus body. Entries without calendar data and events that do not
// parse are skipped; an unreadable envelope is reported as caldav.ErrEnvelope.
func (p *Parser) ParseCalendarQueryResponse(body []byte) ([]models.RemoteEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", caldav.ErrEnvelope)
	}

	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("%w: %v", caldav.ErrEnvelope, err)
	}

	events := make([]models.RemoteEvent, 0, len(ms.Responses))
	for _, resp := range ms.Responses {
		var etag, data string
		for _, ps := range resp.Propstats {
			if strings.TrimSpace(ps.Prop.CalendarData) != "" {
				etag, data = ps.Prop.ETag, ps.Prop.CalendarData
				break
			}
		}
		if data == "" {
			continue
		}

		event := p.ParseEvent(data)
		if event == nil {
			p.logger.Debug("skipping unparseable calendar object", "href", strings.TrimSpace(resp.Href))
			continue
		}
		event.ETag = strings.TrimSpace(etag)
		event.Href = strings.TrimSpace(resp.Href)
		events = append(events, *event)
	}

	return events, nil
}
