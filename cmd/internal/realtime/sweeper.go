package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the idle-room sweep every ten minutes.
const DefaultSweepSchedule = "@every 10m"

// Sweeper deletes idle rooms on a cron schedule.
type Sweeper struct {
	log      *slog.Logger
	engine   *Engine
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
}

// NewSweeper constructs a Sweeper. An empty schedule uses DefaultSweepSchedule.
func NewSweeper(log *slog.Logger, engine *Engine, schedule string) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{
		log:      log,
		engine:   engine,
		schedule: schedule,
		timeout:  time.Minute,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start schedules the sweep. It fails when the schedule does not parse.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() { _, _ = s.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.log.Info("sweep.start", "schedule", s.schedule)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.log.Info("sweep.stop")
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(parent context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.engine.SweepIdleRooms(ctx)
	if err != nil {
		s.log.Error("sweep.run.fail", "deleted", n, "err", err)
		return n, err
	}
	s.log.Info("sweep.run", "deleted", n, "elapsed_ms", time.Since(start).Milliseconds())
	return n, nil
}
