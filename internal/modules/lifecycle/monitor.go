package lifecycle

import (
	"context"
	"time"

	"ridewise/internal/modules/ride"
)

// RunTimeoutMonitor auto-confirms rides left waiting for the rider longer
// than ConfirmTimeout. It returns at once when the timeout is disabled.
func (s *Service) RunTimeoutMonitor(ctx context.Context) {
	if s.cfg.ConfirmTimeout <= 0 {
		return
	}
	s.logger.Info("confirmation monitor started", "timeout", s.cfg.ConfirmTimeout, "interval", s.cfg.MonitorInterval)
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn("confirmation sweep failed", "err", err)
			} else if n > 0 {
				s.logger.Info("auto-confirmed rides", "count", n)
			}
		}
	}
}

// SweepOnce confirms overdue rides, including confirmed ones whose history
// write previously failed. It returns how many rides were retired.
func (s *Service) SweepOnce(ctx context.Context) (int, error) {
	active, err := s.rides.ListByStatus(ctx, ride.StatusActive)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-s.cfg.ConfirmTimeout)
	done := 0
	for _, r := range active {
		switch r.Stage() {
		case ride.StageAwaitingConfirmation:
			if r.DroppedOffAt == nil || r.DroppedOffAt.After(cutoff) {
				continue
			}
		case ride.StageConfirmed:
		default:
			continue
		}
		if _, err := s.Confirm(ctx, ConfirmCommand{RideID: r.ID, RiderID: r.RiderID}); err != nil {
			s.logger.Warn("auto-confirm failed", "ride_id", r.ID, "err", err)
			continue
		}
		done++
	}
	return done, nil
}
