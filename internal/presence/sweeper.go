package presence

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweepSchedule is the cron spec for evicting expired typing entries.
const SweepSchedule = "@every 1s"

// Sweeper runs Tracker.Sweep on a cron schedule.
type Sweeper struct {
	cron    *cron.Cron
	tracker *Tracker
	logger  *zap.Logger
}

// NewSweeper creates a sweeper for the given tracker.
func NewSweeper(tracker *Tracker, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		tracker: tracker,
		logger:  logger,
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(SweepSchedule, s.sweep); err != nil {
		return fmt.Errorf("register typing sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("typing sweeper started", zap.String("schedule", SweepSchedule))
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("typing sweeper stopped")
}

func (s *Sweeper) sweep() {
	if n := s.tracker.Sweep(); n > 0 {
		s.logger.Debug("typing entries expired", zap.Int("count", n))
	}
}
