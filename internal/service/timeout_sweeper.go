package service

import (
	"context"
	"time"

	"relay-gateway/internal/core/ports"
	"relay-gateway/internal/observability"

	"github.com/rs/zerolog"
)

const defaultSweepInterval = time.Minute

// TimeoutSweeper periodically finalizes attempts left pending past their
// deadline, e.g. by a crash between downstream call and ledger write.
type TimeoutSweeper struct {
	ledger   ports.Ledger
	interval time.Duration
	metrics  *observability.Metrics
	now      func() time.Time
	log      zerolog.Logger
}

func NewTimeoutSweeper(ledger ports.Ledger, interval time.Duration, metrics *observability.Metrics, log zerolog.Logger) *TimeoutSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &TimeoutSweeper{
		ledger:   ledger,
		interval: interval,
		metrics:  metrics,
		now:      time.Now,
		log:      log,
	}
}

// Start sweeps once immediately and then on every tick until ctx is done.
func (s *TimeoutSweeper) Start(ctx context.Context) error {
	if err := s.sweep(ctx); err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("initial attempt sweep failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.log.Error().Err(err).Msg("attempt sweep failed")
			}
		}
	}
}

func (s *TimeoutSweeper) sweep(ctx context.Context) error {
	n, err := s.ledger.ExpireStale(ctx, s.now())
	if err != nil {
		return err
	}
	s.metrics.AddExpired(n)
	if n > 0 {
		s.log.Info().Int("expired", n).Msg("stale attempts timed out")
	}
	return nil
}
