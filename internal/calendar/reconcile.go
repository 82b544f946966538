package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/booking-calendar-sync/backend/internal/caldav"
	"github.com/booking-calendar-sync/backend/internal/logging"
	"github.com/booking-calendar-sync/backend/internal/storage/models"
)

// auditSource tags audit entries written by the reconciliation engine.
const auditSource = "caldav_reconcile"

// ErrInvalidWindow is returned when a reconciliation window is empty.
var ErrInvalidWindow = errors.New("reconciliation window start must be before end")

// PartialFailureError reports the staff members whose calendars could not be
// reconciled during an otherwise completed pass.
type PartialFailureError struct {
	StaffIDs []string
	Errs     []error
}

func (e *PartialFailureError) Error() string {
	parts := make([]string, len(e.StaffIDs))
	for i, id := range e.StaffIDs {
		parts[i] = fmt.Sprintf("%s: %v", id, e.Errs[i])
	}
	return fmt.Sprintf("reconciliation failed for %d staff member(s): %s",
		len(e.StaffIDs), strings.Join(parts, "; "))
}

// Unwrap exposes the per-staff errors to errors.Is and errors.As.
func (e *PartialFailureError) Unwrap() []error {
	return e.Errs
}

// BookingStore is the booking persistence used by the reconciler.
type BookingStore interface {
	ListTrackedStaffIDs(ctx context.Context) ([]string, error)
	ListTrackedInWindow(ctx context.Context, staffID string, from, to time.Time) ([]models.Booking, error)
	GetByCalDAVUID(ctx context.Context, uid string) (*models.Booking, error)
	FindOverlapping(ctx context.Context, staffID string, start, end time.Time, excludeID string) ([]models.Booking, error)
	TransitionStatus(ctx context.Context, id, from, to string) (bool, error)
	UpdateTimes(ctx context.Context, id string, oldStart, oldEnd, newStart, newEnd time.Time) (bool, error)
	UpdateETag(ctx context.Context, id, etag string) error
}

// CredentialProvider resolves a staff member's calendar credentials. It
// returns nil when none are stored.
type CredentialProvider interface {
	GetCredentials(ctx context.Context, staffID string) (*models.CalendarCredentials, error)
}

// QueryTransport executes calendar-query REPORTs.
type QueryTransport interface {
	Report(ctx context.Context, url, queryXML, user, pass string) (*caldav.Response, error)
}

// AuditSink records reconciliation outcomes. Implementations must not fail
// back into the caller.
type AuditSink interface {
	Log(ctx context.Context, level models.AuditLevel, source, message string, fields map[string]any, bookingID, staffID string)
}

// CacheInvalidator drops cached availability touching a time range.
type CacheInvalidator interface {
	InvalidateRange(from, to time.Time)
}

// ReconcilerConfig holds the collaborators and settings of a Reconciler.
type ReconcilerConfig struct {
	Store       BookingStore
	Credentials CredentialProvider
	Transport   QueryTransport
	Parser      *Parser
	Audit       AuditSink
	Cache       CacheInvalidator
	Logger      *slog.Logger

	// UIDPrefix marks the calendar objects created by this system.
	UIDPrefix string

	// Workers is the number of staff members reconciled concurrently.
	Workers int

	// Now overrides the clock used for pass timestamps.
	Now func() time.Time
}

// Reconciler diffs remote calendars against local bookings.
type Reconciler struct {
	store       BookingStore
	credentials CredentialProvider
	transport   QueryTransport
	parser      *Parser
	audit       AuditSink
	cache       CacheInvalidator
	logger      *slog.Logger
	uidPrefix   string
	workers     int
	now         func() time.Time
}

// NewReconciler creates a new reconciliation engine.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Parser == nil {
		cfg.Parser = NewParser(nil, cfg.Logger)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Reconciler{
		store:       cfg.Store,
		credentials: cfg.Credentials,
		transport:   cfg.Transport,
		parser:      cfg.Parser,
		audit:       cfg.Audit,
		cache:       cfg.Cache,
		logger:      cfg.Logger.With("component", "reconciler"),
		uidPrefix:   cfg.UIDPrefix,
		workers:     cfg.Workers,
		now:         cfg.Now,
	}
}

// staffOutcome is the result of reconciling one staff member.
type staffOutcome struct {
	result  models.ReconciliationResult
	skipped bool
	err     error
}

// Reconcile diffs every staff member's remote calendar against the local
// bookings inside [from, to] and applies the resulting transitions. When some
// staff members could not be reconciled the pass result is returned together
// with a *PartialFailureError.
func (r *Reconciler) Reconcile(ctx context.Context, from, to time.Time) (*models.PassResult, error) {
	if !from.Before(to) {
		return nil, ErrInvalidWindow
	}
	from, to = from.UTC(), to.UTC()
	logger := logging.FromContext(ctx, r.logger)

	pass := &models.PassResult{From: from, To: to, StartedAt: r.now().UTC()}

	staffIDs, err := r.store.ListTrackedStaffIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing staff with tracked bookings: %w", err)
	}

	outcomes := make([]staffOutcome, len(staffIDs))
	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup
	for i, staffID := range staffIDs {
		if ctx.Err() != nil {
			outcomes[i] = staffOutcome{err: ctx.Err()}
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			staffLogger := logger.With("staff_id", staffID)
			out := r.reconcileStaff(ctx, staffLogger, staffID, from, to)
			if out.err != nil {
				staffLogger.Error("staff reconciliation failed", "err", out.err)
				r.log(ctx, models.AuditLevelError, "Calendar reconciliation failed", map[string]any{"error": out.err.Error()}, "", staffID)
			}
			outcomes[i] = out
		}()
	}
	wg.Wait()

	var failure PartialFailureError
	for i, staffID := range staffIDs {
		out := outcomes[i]
		switch {
		case out.err != nil:
			pass.Failed = append(pass.Failed, staffID)
			failure.StaffIDs = append(failure.StaffIDs, staffID)
			failure.Errs = append(failure.Errs, out.err)
		case out.skipped:
			pass.Skipped = append(pass.Skipped, staffID)
		default:
			out.result.StaffID = staffID
			pass.Staff = append(pass.Staff, out.result)
			pass.Totals.Add(out.result)
		}
	}

	if r.cache != nil {
		r.cache.InvalidateRange(from, to)
	}

	pass.CompletedAt = r.now().UTC()
	logger.Info("reconciliation pass completed",
		"from", from,
		"to", to,
		"staff", len(staffIDs),
		"processed", pass.Totals.Processed,
		"conflicts", pass.Totals.Conflicts,
		"updates", pass.Totals.Updates,
		"cancelled", pass.Totals.Cancelled,
		"skipped", len(pass.Skipped),
		"failed", len(pass.Failed),
		"duration", pass.CompletedAt.Sub(pass.StartedAt),
	)

	if len(failure.StaffIDs) > 0 {
		return pass, &failure
	}
	return pass, nil
}

// reconcileStaff fetches one staff member's calendar and applies the diff.
func (r *Reconciler) reconcileStaff(ctx context.Context, logger *slog.Logger, staffID string, from, to time.Time) staffOutcome {
	creds, err := r.credentials.GetCredentials(ctx, staffID)
	if err != nil {
		return staffOutcome{err: fmt.Errorf("loading credentials: %w", err)}
	}
	if creds == nil || !creds.Complete() {
		logger.Warn("skipping staff member without calendar credentials")
		r.log(ctx, models.AuditLevelWarn, "Skipped reconciliation: calendar credentials missing", nil, "", staffID)
		return staffOutcome{skipped: true}
	}

	events, err := r.fetch(ctx, creds, from, to)
	if err != nil {
		return staffOutcome{err: err}
	}

	bookings, err := r.store.ListTrackedInWindow(ctx, staffID, from, to)
	if err != nil {
		return staffOutcome{err: fmt.Errorf("loading bookings: %w", err)}
	}
	index := NewEventIndex(bookings)

	var result models.ReconciliationResult
	for i := range events {
		event := &events[i]
		if !strings.HasPrefix(event.UID, r.uidPrefix) {
			continue
		}
		result.Processed++

		booking, ok := index.Match(event.UID)
		if !ok {
			r.handleUnmatched(ctx, logger, event)
			continue
		}

		if err := r.applyEvent(ctx, logger, booking, event, &result); err != nil {
			return staffOutcome{result: result, err: err}
		}
	}

	for _, booking := range index.Unseen() {
		if booking.Status == models.BookingStatusCancelled {
			continue
		}
		ok, err := r.store.TransitionStatus(ctx, booking.ID, booking.Status, models.BookingStatusCancelled)
		if err != nil {
			return staffOutcome{result: result, err: fmt.Errorf("cancelling deleted booking %s: %w", booking.ID, err)}
		}
		if !ok {
			logger.Info("booking changed concurrently, skipping deletion", "booking_id", booking.ID)
			continue
		}
		booking.Status = models.BookingStatusCancelled
		result.Cancelled++
		r.log(ctx, models.AuditLevelInfo, "Booking cancelled: event deleted from calendar", map[string]any{
			"uid": booking.UID(),
		}, booking.ID, staffID)
	}

	logger.Debug("staff reconciled",
		"events", len(events),
		"bookings", index.Len(),
		"processed", result.Processed,
		"conflicts", result.Conflicts,
		"updates", result.Updates,
		"cancelled", result.Cancelled,
	)

	return staffOutcome{result: result}
}

// fetch runs the calendar query and parses the response. Transport errors,
// non-2xx statuses and unreadable envelopes all fail the staff member.
func (r *Reconciler) fetch(ctx context.Context, creds *models.CalendarCredentials, from, to time.Time) ([]models.RemoteEvent, error) {
	resp, err := r.transport.Report(ctx, creds.URL, BuildCalendarQuery(from, to), creds.Username, creds.Password)
	if err != nil {
		return nil, fmt.Errorf("calendar query: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("calendar query returned status %d", resp.StatusCode)
	}

	events, err := r.parser.ParseCalendarQueryResponse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing calendar query response: %w", err)
	}
	return events, nil
}

// handleUnmatched distinguishes true orphans from bookings that exist
// locally but were not part of this pass's diff set.
func (r *Reconciler) handleUnmatched(ctx context.Context, logger *slog.Logger, event *models.RemoteEvent) {
	known, err := r.store.GetByCalDAVUID(ctx, event.UID)
	if err != nil {
		logger.Warn("looking up unmatched event failed", "uid", event.UID, "err", err)
		return
	}
	if known != nil {
		logger.Debug("event belongs to a booking outside the diff set",
			"uid", event.UID, "booking_id", known.ID, "status", known.Status)
		return
	}
	logger.Warn("orphaned calendar event has no local booking",
		"uid", event.UID, "href", event.Href, "start", event.Start, "end", event.End)
}

// applyEvent reconciles one booking against its remote event.
func (r *Reconciler) applyEvent(ctx context.Context, logger *slog.Logger, booking *models.Booking, event *models.RemoteEvent, result *models.ReconciliationResult) error {
	switch {
	case event.IsCancelled():
		if booking.Status != models.BookingStatusCancelled {
			if err := r.cancel(ctx, logger, booking, result); err != nil {
				return err
			}
		}
	case booking.Status == models.BookingStatusCancelled:
		// Cancelled earlier in this pass; never resurrected.
	case !booking.Start.Equal(event.Start) || !booking.End.Equal(event.End):
		if err := r.applyMove(ctx, logger, booking, event, result); err != nil {
			return err
		}
	}

	if event.ETag != "" && event.ETag != booking.ETag() {
		if err := r.store.UpdateETag(ctx, booking.ID, event.ETag); err != nil {
			return fmt.Errorf("syncing etag of booking %s: %w", booking.ID, err)
		}
		etag := event.ETag
		booking.CalDAVETag = &etag
	}

	return nil
}

func (r *Reconciler) cancel(ctx context.Context, logger *slog.Logger, booking *models.Booking, result *models.ReconciliationResult) error {
	ok, err := r.store.TransitionStatus(ctx, booking.ID, booking.Status, models.BookingStatusCancelled)
	if err != nil {
		return fmt.Errorf("cancelling booking %s: %w", booking.ID, err)
	}
	if !ok {
		logger.Info("booking changed concurrently, skipping cancellation", "booking_id", booking.ID)
		return nil
	}

	previous := booking.Status
	booking.Status = models.BookingStatusCancelled
	result.Cancelled++
	r.log(ctx, models.AuditLevelInfo, "Booking cancelled in calendar", map[string]any{
		"uid":             booking.UID(),
		"previous_status": previous,
	}, booking.ID, booking.StaffID)
	return nil
}

// applyMove handles a remote time change: flag a conflict when the new range
// collides with another active booking, otherwise copy the remote times.
func (r *Reconciler) applyMove(ctx context.Context, logger *slog.Logger, booking *models.Booking, event *models.RemoteEvent, result *models.ReconciliationResult) error {
	if booking.Status == models.BookingStatusConflicted {
		logger.Debug("booking awaits conflict resolution, keeping local times", "booking_id", booking.ID)
		return nil
	}

	fields := map[string]any{
		"uid":       booking.UID(),
		"old_start": booking.Start,
		"old_end":   booking.End,
		"new_start": event.Start,
		"new_end":   event.End,
	}

	overlapping, err := r.store.FindOverlapping(ctx, booking.StaffID, event.Start, event.End, booking.ID)
	if err != nil {
		return fmt.Errorf("checking overlaps for booking %s: %w", booking.ID, err)
	}

	if len(overlapping) > 0 {
		ok, err := r.store.TransitionStatus(ctx, booking.ID, booking.Status, models.BookingStatusConflicted)
		if err != nil {
			return fmt.Errorf("flagging conflict on booking %s: %w", booking.ID, err)
		}
		if !ok {
			logger.Info("booking changed concurrently, skipping conflict", "booking_id", booking.ID)
			return nil
		}

		ids := make([]string, len(overlapping))
		for i, o := range overlapping {
			ids[i] = o.ID
		}
		fields["conflicts_with"] = ids

		booking.Status = models.BookingStatusConflicted
		result.Conflicts++
		r.log(ctx, models.AuditLevelWarn, "Booking moved in calendar onto an occupied slot", fields, booking.ID, booking.StaffID)
		return nil
	}

	ok, err := r.store.UpdateTimes(ctx, booking.ID, booking.Start, booking.End, event.Start, event.End)
	if err != nil {
		return fmt.Errorf("moving booking %s: %w", booking.ID, err)
	}
	if !ok {
		logger.Info("booking changed concurrently, skipping move", "booking_id", booking.ID)
		return nil
	}

	booking.Start, booking.End = event.Start.UTC(), event.End.UTC()
	result.Updates++
	r.log(ctx, models.AuditLevelInfo, "Booking moved in calendar", fields, booking.ID, booking.StaffID)
	return nil
}

func (r *Reconciler) log(ctx context.Context, level models.AuditLevel, message string, fields map[string]any, bookingID, staffID string) {
	if r.audit == nil {
		return
	}
	r.audit.Log(ctx, level, auditSource, message, fields, bookingID, staffID)
}
