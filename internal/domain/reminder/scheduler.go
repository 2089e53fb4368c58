package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs Sweep on a cron schedule in the calendar zone. A tick that
// fires while the previous sweep is still running is skipped.
type Scheduler struct {
	cron    *cron.Cron
	sweeper *Sweeper
	logger  zerolog.Logger
}

func NewScheduler(sweeper *Sweeper, spec string, loc *time.Location, logger zerolog.Logger) (*Scheduler, error) {
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s := &Scheduler{cron: c, sweeper: sweeper, logger: logger}
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("reminder schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	if _, err := s.sweeper.Sweep(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("reminder sweep failed")
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("reminder scheduler started")
}

// Stop stops scheduling and waits for a running sweep, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("reminder sweep still running at shutdown")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
