package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"LIBRA-backend/internal/platform/clock"
)

type DueLister interface {
	// ListDue returns active borrowings with expected_return_date <= through.
	ListDue(ctx context.Context, through time.Time) ([]DueBorrowing, error)
}

// Sweeper reports borrowings that are due by tomorrow, once per interval.
type Sweeper struct {
	lister   DueLister
	notifier Notifier
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(lister DueLister, notifier Notifier, c clock.Clock, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Sweeper{lister: lister, notifier: notifier, clock: c, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Overdue sweep started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Overdue sweep stopped")
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("Overdue sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) error {
	through := clock.Today(s.clock).AddDate(0, 0, 1)
	due, err := s.lister.ListDue(ctx, through)
	if err != nil {
		return err
	}
	s.logger.Info("Overdue sweep", zap.Int("due", len(due)), zap.Time("through", through))
	s.notifier.Send(ctx, OverdueReport(due))
	return nil
}
