// Package models contains the domain models for the application.
package models

import (
	"time"
)

// Booking represents a reservation of one staff member's time.
type Booking struct {
	ID            string    `json:"id"`
	StaffID       string    `json:"staff_id"`
	ServiceID     string    `json:"service_id"`
	CustomerName  string    `json:"customer_name,omitempty"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Status        string    `json:"status"`
	CalDAVUID     *string   `json:"caldav_uid,omitempty"`
	CalDAVETag    *string   `json:"caldav_etag,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Booking status constants
const (
	BookingStatusPending    = "pending"
	BookingStatusConfirmed  = "confirmed"
	BookingStatusCancelled  = "cancelled"
	BookingStatusConflicted = "conflicted"
	BookingStatusFailedSync = "failed_sync"
)

// ValidBookingStatus reports whether s is a known booking status.
func ValidBookingStatus(s string) bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled,
		BookingStatusConflicted, BookingStatusFailedSync:
		return true
	}
	return false
}

// IsTracked returns true if the booking has a mirrored remote calendar event.
func (b *Booking) IsTracked() bool {
	return b.CalDAVUID != nil && *b.CalDAVUID != ""
}

// UID returns the external calendar identifier or an empty string.
func (b *Booking) UID() string {
	if b.CalDAVUID == nil {
		return ""
	}
	return *b.CalDAVUID
}

// ETag returns the stored version tag or an empty string.
func (b *Booking) ETag() string {
	if b.CalDAVETag == nil {
		return ""
	}
	return *b.CalDAVETag
}

// Service is a bookable service offered by staff.
type Service struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	DurationMin int    `json:"duration_min"`
}

// Staff is a staff member whose time can be booked.
type Staff struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// CalendarCredentials holds a staff member's remote calendar access details.
type CalendarCredentials struct {
	StaffID  string `json:"staff_id"`
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"-"`
}

// Complete returns true if all fields needed to talk to the server are set.
func (c *CalendarCredentials) Complete() bool {
	return c != nil && c.URL != "" && c.Username != "" && c.Password != ""
}
