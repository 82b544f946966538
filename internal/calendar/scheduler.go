package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/booking-calendar-sync/backend/internal/logging"
	"github.com/booking-calendar-sync/backend/internal/storage/models"
	"github.com/booking-calendar-sync/backend/internal/websocket"
)

// PassRunner runs one reconciliation pass over a window.
type PassRunner interface {
	Reconcile(ctx context.Context, from, to time.Time) (*models.PassResult, error)
}

// SchedulerConfig controls the periodic reconciliation trigger.
type SchedulerConfig struct {
	// Schedule is a robfig/cron expression, e.g. "@hourly".
	Schedule    string
	DaysBack    int
	DaysForward int
}

// Scheduler manages the periodic reconciliation job.
type Scheduler struct {
	cron        *cron.Cron
	runner      PassRunner
	broadcaster *websocket.EventBroadcaster
	logger      *slog.Logger
	config      SchedulerConfig
	now         func() time.Time

	mu         sync.Mutex
	entryID    cron.EntryID
	registered bool
	running    bool
}

// NewScheduler creates a new reconciliation scheduler.
func NewScheduler(runner PassRunner, hub *websocket.Hub, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.Schedule == "" {
		cfg.Schedule = "@hourly"
	}
	if cfg.DaysBack <= 0 {
		cfg.DaysBack = 7
	}
	if cfg.DaysForward <= 0 {
		cfg.DaysForward = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reconcile_scheduler")

	var broadcaster *websocket.EventBroadcaster
	if hub != nil {
		broadcaster = websocket.NewEventBroadcaster(hub)
	}

	cronLogger := logging.CronLogger{Logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		runner:      runner,
		broadcaster: broadcaster,
		logger:      logger,
		config:      cfg,
		now:         time.Now,
	}
}

// Start registers the reconciliation job once and starts the scheduler.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if !s.registered {
		entryID, err := s.cron.AddFunc(s.config.Schedule, func() {
			from, to := s.Window()
			_, _ = s.run(context.Background(), from, to)
		})
		if err != nil {
			return fmt.Errorf("scheduling reconciliation %q: %w", s.config.Schedule, err)
		}
		s.entryID = entryID
		s.registered = true
	}

	s.running = true
	s.cron.Start()
	s.logger.Info("reconciliation scheduler started", "schedule", s.config.Schedule)

	return nil
}

// Stop gracefully shuts down the scheduler, waiting for a running pass.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	running := s.running
	s.running = false
	s.mu.Unlock()

	if !running {
		return
	}

	s.logger.Info("stopping reconciliation scheduler")
	<-s.cron.Stop().Done()
	s.logger.Info("reconciliation scheduler stopped")
}

// Window returns the rolling reconciliation window around now.
func (s *Scheduler) Window() (from, to time.Time) {
	now := s.now().UTC()
	return now.AddDate(0, 0, -s.config.DaysBack), now.AddDate(0, 0, s.config.DaysForward)
}

// Trigger runs a pass immediately. Zero bounds default to the rolling window.
func (s *Scheduler) Trigger(ctx context.Context, from, to time.Time) (*models.PassResult, error) {
	defFrom, defTo := s.Window()
	if from.IsZero() {
		from = defFrom
	}
	if to.IsZero() {
		to = defTo
	}
	return s.run(ctx, from, to)
}

// NextRun returns the next scheduled pass, or nil when not started.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	entry := s.cron.Entry(s.entryID)
	if entry.Next.IsZero() {
		return nil
	}
	return &entry.Next
}

// run performs a pass and publishes its outcome.
func (s *Scheduler) run(ctx context.Context, from, to time.Time) (*models.PassResult, error) {
	pass, err := s.runner.Reconcile(ctx, from, to)

	var partial *PartialFailureError
	switch {
	case err == nil, errors.As(err, &partial):
		if err != nil {
			s.logger.Warn("reconciliation pass partially failed", "failed", partial.StaffIDs, "err", err)
		}
		if s.broadcaster != nil && pass != nil {
			s.broadcaster.BroadcastReconcileCompleted(pass)
		}
	default:
		s.logger.Error("reconciliation pass failed", "err", err)
		if s.broadcaster != nil {
			s.broadcaster.BroadcastReconcileError(err)
		}
	}

	return pass, err
}
