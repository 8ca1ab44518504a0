package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically fails proposals stuck in processing.
type Sweeper struct {
	cron  *cron.Cron
	coord *Coordinator
	log   *slog.Logger
}

// NewSweeper schedules the stale sweep. schedule accepts standard cron
// expressions and descriptors such as "@every 1m".
func NewSweeper(coord *Coordinator, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		cron:  cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		coord: coord,
		log:   logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("schedule stale sweep %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a sweep in progress.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.coord.SweepStale(ctx)
	if err != nil {
		s.log.Error("sweep.stale.error", "error", err)
		return
	}
	if n > 0 {
		s.log.Warn("sweep.stale.failed_jobs", "count", n)
	}
}
