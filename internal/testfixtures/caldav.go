package testfixtures

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// RemoteObject describes one calendar object served in a multistatus body.
type RemoteObject struct {
	UID    string
	Start  time.Time
	End    time.Time
	Status string
	ETag   string
}

// CalendarObject renders o as a VCALENDAR with CRLF line endings.
func CalendarObject(o RemoteObject) string {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//testfixtures//EN",
		"BEGIN:VEVENT",
		"UID:" + o.UID,
		"DTSTAMP:20240101T000000Z",
		"DTSTART:" + o.Start.UTC().Format("20060102T150405Z"),
		"DTEND:" + o.End.UTC().Format("20060102T150405Z"),
		"SUMMARY:Appointment",
	}
	if o.Status != "" {
		lines = append(lines, "STATUS:"+o.Status)
	}
	lines = append(lines, "END:VEVENT", "END:VCALENDAR", "")
	return strings.Join(lines, "\r\n")
}

// MultistatusBody renders a calendar-query response holding objs.
func MultistatusBody(objs ...RemoteObject) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	buf.WriteString(`<d:multistatus xmlns:d="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav">` + "\n")
	for _, o := range objs {
		buf.WriteString("<d:response>\n")
		fmt.Fprintf(&buf, "<d:href>/calendars/%s.ics</d:href>\n", o.UID)
		buf.WriteString("<d:propstat><d:prop>\n")
		buf.WriteString("<d:getetag>")
		_ = xml.EscapeText(&buf, []byte(o.ETag))
		buf.WriteString("</d:getetag>\n<cal:calendar-data>")
		_ = xml.EscapeText(&buf, []byte(CalendarObject(o)))
		buf.WriteString("</cal:calendar-data>\n")
		buf.WriteString("</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat>\n")
		buf.WriteString("</d:response>\n")
	}
	buf.WriteString("</d:multistatus>\n")
	return buf.Bytes()
}
