package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ApprovalExpirer is the slice of the processor the sweeper drives.
type ApprovalExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// IdempotencyPurger deletes idempotency records past their expiry.
type IdempotencyPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Sweeper periodically expires stale approvals and purges expired
// idempotency records.
type Sweeper struct {
	cron     *cron.Cron
	expirer  ApprovalExpirer
	purger   IdempotencyPurger
	schedule string
	timeout  time.Duration
	log      zerolog.Logger
}

// NewSweeper creates a sweeper on a cron schedule such as "@every 1m".
func NewSweeper(expirer ApprovalExpirer, purger IdempotencyPurger, schedule string, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		expirer:  expirer,
		purger:   purger,
		schedule: schedule,
		timeout:  30 * time.Second,
		log:      log,
	}
}

// Start registers the job and starts the scheduler.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("schedule sweeper %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("sweeper started")
	return nil
}

// Stop halts the scheduler and waits for a running job up to ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce performs one sweep.
func (s *Sweeper) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	expired, err := s.expirer.ExpireStale(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("approval expiry sweep failed")
	}

	purged, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("idempotency purge failed")
	}

	if expired > 0 || purged > 0 {
		s.log.Info().Int("approvals_expired", expired).Int64("idempotency_purged", purged).Msg("sweep completed")
	}
}
