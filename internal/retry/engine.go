// Package retry re-sends bookings whose calendar write failed.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/booking-calendar-sync/backend/internal/caldav"
	"github.com/booking-calendar-sync/backend/internal/logging"
	"github.com/booking-calendar-sync/backend/internal/storage/models"
)

const (
	auditSource = "caldav_retry"

	baseDelay = 60 * time.Second
	maxDelay  = time.Hour
)

var errNoCredentials = errors.New("calendar credentials missing")

// Backoff returns the wait required after attempts failed writes:
// min(2^attempts minutes, one hour).
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// 2^6 minutes already exceeds the cap.
	if attempts >= 6 {
		return maxDelay
	}
	return min(baseDelay<<attempts, maxDelay)
}

// BookingStore is the booking persistence used by the retry engine.
type BookingStore interface {
	ListByStatus(ctx context.Context, status string) ([]models.Booking, error)
	MarkSynced(ctx context.Context, id, uid, etag string) (bool, error)
}

// StateStore keeps per-booking retry bookkeeping.
type StateStore interface {
	GetRetryState(ctx context.Context, bookingID string) (models.RetryState, error)
	SaveRetryState(ctx context.Context, state models.RetryState) error
	ClearRetryState(ctx context.Context, bookingID string) error
}

// ServiceLookup resolves the service a booking is for. It returns nil when
// the service no longer exists.
type ServiceLookup interface {
	GetService(ctx context.Context, id string) (*models.Service, error)
}

// CredentialProvider resolves a staff member's calendar credentials.
type CredentialProvider interface {
	GetCredentials(ctx context.Context, staffID string) (*models.CalendarCredentials, error)
}

// WriteTransport writes calendar objects.
type WriteTransport interface {
	Put(ctx context.Context, eventURL, icsBody, user, pass string) (*caldav.PutResponse, error)
}

// EventBuilder renders bookings as calendar objects.
type EventBuilder interface {
	BuildEvent(booking *models.Booking, service *models.Service, method ical.Method) (string, error)
}

// AuditSink records retry outcomes.
type AuditSink interface {
	Log(ctx context.Context, level models.AuditLevel, source, message string, fields map[string]any, bookingID, staffID string)
}

// EngineConfig holds the collaborators and settings of an Engine.
type EngineConfig struct {
	Bookings    BookingStore
	State       StateStore
	Services    ServiceLookup
	Credentials CredentialProvider
	Transport   WriteTransport
	Builder     EventBuilder
	Audit       AuditSink
	Logger      *slog.Logger

	// UIDPrefix is prepended to the booking ID for bookings that never
	// received a calendar UID.
	UIDPrefix string

	// MaxAttempts stops retrying after that many failures. Zero retries
	// forever.
	MaxAttempts int

	Now func() time.Time
}

// Engine retries failed calendar writes with capped exponential backoff.
type Engine struct {
	bookings    BookingStore
	state       StateStore
	services    ServiceLookup
	credentials CredentialProvider
	transport   WriteTransport
	builder     EventBuilder
	audit       AuditSink
	logger      *slog.Logger
	uidPrefix   string
	maxAttempts int
	now         func() time.Time
}

// NewEngine creates a new retry engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Builder == nil {
		cfg.Builder = caldav.NewGenerator("")
	}

	return &Engine{
		bookings:    cfg.Bookings,
		state:       cfg.State,
		services:    cfg.Services,
		credentials: cfg.Credentials,
		transport:   cfg.Transport,
		builder:     cfg.Builder,
		audit:       cfg.Audit,
		logger:      cfg.Logger.With("component", "retry"),
		uidPrefix:   cfg.UIDPrefix,
		maxAttempts: cfg.MaxAttempts,
		now:         cfg.Now,
	}
}

// RunRetryPass re-sends every failed_sync booking whose backoff has elapsed.
// Individual failures are recorded and never abort the pass.
func (e *Engine) RunRetryPass(ctx context.Context) (*models.RetryResult, error) {
	logger := logging.FromContext(ctx, e.logger)

	bookings, err := e.bookings.ListByStatus(ctx, models.BookingStatusFailedSync)
	if err != nil {
		return nil, fmt.Errorf("listing failed bookings: %w", err)
	}

	result := &models.RetryResult{}
	for i := range bookings {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		booking := &bookings[i]
		result.Scanned++

		state, err := e.state.GetRetryState(ctx, booking.ID)
		if err != nil {
			logger.Error("loading retry state failed", "booking_id", booking.ID, "err", err)
			result.Skipped++
			continue
		}

		if e.maxAttempts > 0 && state.Attempts >= e.maxAttempts {
			logger.Debug("retry attempts exhausted", "booking_id", booking.ID, "attempts", state.Attempts)
			result.Exhausted++
			continue
		}

		now := e.now().UTC()
		if !state.LastAttempt.IsZero() && now.Sub(state.LastAttempt) < Backoff(state.Attempts) {
			result.Skipped++
			continue
		}

		synced, err := e.attempt(ctx, booking)
		if err != nil {
			e.recordFailure(ctx, logger, booking, state, now, err)
			result.Failed++
			continue
		}
		if !synced {
			logger.Info("booking left failed_sync concurrently", "booking_id", booking.ID)
			result.Skipped++
			continue
		}

		if err := e.state.ClearRetryState(ctx, booking.ID); err != nil {
			logger.Warn("clearing retry state failed", "booking_id", booking.ID, "err", err)
		}
		result.Succeeded++
		e.log(ctx, models.AuditLevelInfo, "Booking written to calendar on retry", map[string]any{
			"uid":      booking.UID(),
			"attempts": state.Attempts + 1,
		}, booking)
	}

	logger.Info("retry pass completed",
		"scanned", result.Scanned,
		"skipped", result.Skipped,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"exhausted", result.Exhausted,
	)

	return result, nil
}

// attempt writes one booking to its staff member's calendar. It reports
// false when the booking was no longer in failed_sync at confirmation.
func (e *Engine) attempt(ctx context.Context, booking *models.Booking) (bool, error) {
	creds, err := e.credentials.GetCredentials(ctx, booking.StaffID)
	if err != nil {
		return false, fmt.Errorf("loading credentials: %w", err)
	}
	if creds == nil || !creds.Complete() {
		return false, errNoCredentials
	}

	service, err := e.services.GetService(ctx, booking.ServiceID)
	if err != nil {
		return false, fmt.Errorf("loading service: %w", err)
	}

	uid := booking.UID()
	if uid == "" {
		uid = e.uidPrefix + booking.ID
		booking.CalDAVUID = &uid
	}

	ics, err := e.builder.BuildEvent(booking, service, ical.MethodRequest)
	if err != nil {
		return false, fmt.Errorf("building calendar object: %w", err)
	}

	resp, err := e.transport.Put(ctx, caldav.EventURL(creds.URL, uid), ics, creds.Username, creds.Password)
	if err != nil {
		return false, fmt.Errorf("calendar write: %w", err)
	}
	if !resp.IsSuccess() {
		return false, fmt.Errorf("calendar write returned status %d", resp.StatusCode)
	}

	ok, err := e.bookings.MarkSynced(ctx, booking.ID, uid, resp.ETag)
	if err != nil {
		return false, fmt.Errorf("confirming booking: %w", err)
	}
	return ok, nil
}

func (e *Engine) recordFailure(ctx context.Context, logger *slog.Logger, booking *models.Booking, state models.RetryState, now time.Time, cause error) {
	state.BookingID = booking.ID
	state.Attempts++
	state.LastAttempt = now

	if err := e.state.SaveRetryState(ctx, state); err != nil {
		logger.Error("saving retry state failed", "booking_id", booking.ID, "err", err)
	}

	fields := map[string]any{
		"error":      cause.Error(),
		"attempts":   state.Attempts,
		"next_after": now.Add(Backoff(state.Attempts)),
	}
	if e.maxAttempts > 0 && state.Attempts >= e.maxAttempts {
		fields["exhausted"] = true
	}
	e.log(ctx, models.AuditLevelError, "Calendar write retry failed", fields, booking)
}

func (e *Engine) log(ctx context.Context, level models.AuditLevel, message string, fields map[string]any, booking *models.Booking) {
	if e.audit == nil {
		return
	}
	e.audit.Log(ctx, level, auditSource, message, fields, booking.ID, booking.StaffID)
}
