package server

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Purger deletes expired context items of every owner.
type Purger interface {
	PurgeExpiredContext(ctx context.Context) (int, error)
}

// Sweeper runs Purger on a cron schedule.
type Sweeper struct {
	cron    *cron.Cron
	purger  Purger
	timeout time.Duration
	logger  logrus.FieldLogger
}

// NewSweeper parses schedule (standard five-field spec or a descriptor such
// as "@every 15m") and registers the sweep.
func NewSweeper(schedule string, purger Purger, logger logrus.FieldLogger) (*Sweeper, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Sweeper{
		cron:    cron.New(),
		purger:  purger,
		timeout: time.Minute,
		logger:  logger.WithField("component", "sweeper"),
	}
	if _, err := s.cron.AddFunc(schedule, s.Sweep); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running scheduled sweeps in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep runs one purge. Failures are logged; the next tick retries.
func (s *Sweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.purger.PurgeExpiredContext(ctx)
	if err != nil {
		s.logger.WithError(err).Error("expired context sweep failed")
		return
	}
	if n > 0 {
		s.logger.WithField("deleted", n).Info("expired context swept")
	}
}
