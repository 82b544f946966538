package caldav

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/booking-calendar-sync/backend/internal/storage/models"
)

// Generator renders bookings as ICS calendar objects.
type Generator struct {
	productID string
	now       func() time.Time
}

// NewGenerator creates a new ICS generator.
func NewGenerator(productID string) *Generator {
	if productID == "" {
		productID = "-//booking-sync//CalDAV Mirror//EN"
	}
	return &Generator{productID: productID, now: time.Now}
}

// BuildEvent renders one booking as a VCALENDAR holding a single VEVENT.
// The booking must carry its UID; cancelled bookings are written with
// STATUS:CANCELLED.
func (g *Generator) BuildEvent(booking *models.Booking, service *models.Service, method ical.Method) (string, error) {
	uid := booking.UID()
	if uid == "" {
		return "", fmt.Errorf("booking %s has no calendar uid", booking.ID)
	}
	if !booking.Start.Before(booking.End) {
		return "", fmt.Errorf("booking %s has an empty time range", booking.ID)
	}

	cal := ical.NewCalendar()
	cal.SetProductId(g.productID)
	if method != "" {
		cal.SetMethod(method)
	}

	event := cal.AddEvent(uid)
	event.SetDtStampTime(g.now().UTC())
	event.SetStartAt(booking.Start.UTC())
	event.SetEndAt(booking.End.UTC())
	event.SetSummary(summary(booking, service))
	if desc := description(booking, service); desc != "" {
		event.SetDescription(desc)
	}

	status := "CONFIRMED"
	if booking.Status == models.BookingStatusCancelled {
		status = models.RemoteStatusCancelled
	}
	event.SetProperty(ical.ComponentPropertyStatus, status)

	return cal.Serialize(), nil
}

func summary(booking *models.Booking, service *models.Service) string {
	name := "Booking"
	if service != nil && service.Name != "" {
		name = service.Name
	}
	if booking.CustomerName != "" {
		return name + ": " + booking.CustomerName
	}
	return name
}

func description(booking *models.Booking, service *models.Service) string {
	var lines []string
	if booking.CustomerName != "" {
		lines = append(lines, "Customer: "+booking.CustomerName)
	}
	if booking.CustomerEmail != "" {
		lines = append(lines, "Email: "+booking.CustomerEmail)
	}
	if service != nil && service.Description != "" {
		lines = append(lines, service.Description)
	}
	lines = append(lines, "Booking ID: "+booking.ID)
	return strings.Join(lines, "\n")
}

// EventURL returns the URL of a booking's calendar object inside a collection.
func EventURL(collectionURL, uid string) string {
	return strings.TrimSuffix(collectionURL, "/") + "/" + url.PathEscape(uid) + ".ics"
}
