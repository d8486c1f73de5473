// Package scheduler runs the periodic station directory refresh.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"climate-server/internal/modules/climate/directory"
)

// Refresher re-imports the station directory.
type Refresher interface {
	Refresh(ctx context.Context) (directory.ImportResult, error)
}

type Scheduler struct {
	scheduler *gocron.Scheduler
	refresher Refresher
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Scheduler. timeout bounds a single refresh run.
func New(refresher Refresher, interval, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		refresher: refresher,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the refresh job. The first run happens one interval after
// start; startup seeding is handled separately.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		return errors.New("scheduler: refresh interval must be positive")
	}
	_, err := s.scheduler.Every(s.interval).WaitForSchedule().SingletonMode().Do(s.run)
	if err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.logger.Info("directory refresh scheduled", "interval", s.interval)
	return nil
}

func (s *Scheduler) run() {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.refresher.Refresh(ctx)
	if err != nil {
		s.logger.Warn("directory refresh failed", "error", err)
		return
	}
	s.logger.Info("directory refreshed",
		"imported", res.Imported,
		"skipped", res.Skipped,
		"duration", time.Since(start),
	)
}

// Stop cancels an in-flight refresh and stops future runs.
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
}
