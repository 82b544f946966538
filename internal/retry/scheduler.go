package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/booking-calendar-sync/backend/internal/logging"
	"github.com/booking-calendar-sync/backend/internal/storage/models"
	"github.com/booking-calendar-sync/backend/internal/websocket"
)

// PassRunner runs one retry pass.
type PassRunner interface {
	RunRetryPass(ctx context.Context) (*models.RetryResult, error)
}

// Scheduler manages the periodic retry job.
type Scheduler struct {
	cron        *cron.Cron
	runner      PassRunner
	broadcaster *websocket.EventBroadcaster
	logger      *slog.Logger
	schedule    string

	mu         sync.Mutex
	registered bool
	running    bool
}

// NewScheduler creates a new retry scheduler. hub may be nil.
func NewScheduler(runner PassRunner, hub *websocket.Hub, schedule string, logger *slog.Logger) *Scheduler {
	if schedule == "" {
		schedule = "@every 5m"
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "retry_scheduler")

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
		schedule:    schedule,
	}
}

// Start registers the retry job once and starts the scheduler. Calling Start
// on a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if !s.registered {
		if _, err := s.cron.AddFunc(s.schedule, func() {
			_, _ = s.Trigger(context.Background())
		}); err != nil {
			return fmt.Errorf("scheduling retry %q: %w", s.schedule, err)
		}
		s.registered = true
	}

	s.running = true
	s.cron.Start()
	s.logger.Info("retry scheduler started", "schedule", s.schedule)

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
	<-s.cron.Stop().Done()
	s.logger.Info("retry scheduler stopped")
}

// Trigger runs a retry pass immediately.
func (s *Scheduler) Trigger(ctx context.Context) (*models.RetryResult, error) {
	result, err := s.runner.RunRetryPass(ctx)
	if err != nil {
		s.logger.Error("retry pass failed", "err", err)
		return result, err
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastRetryCompleted(*result)
	}
	return result, nil
}
