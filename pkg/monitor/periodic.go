package monitor

import (
	"context"
	"time"
)

// RunPeriodic runs scheduled sweeps until the context is cancelled. The
// interval is re-read from the settings row every cycle so operators can
// retune it without a restart; a live backoff window stretches the sleep so
// the loop never wakes up into a closed circuit.
func (s *Service) RunPeriodic(ctx context.Context) {
	defaultInterval := time.Duration(s.cfg.Monitor.IntervalMinutes) * time.Minute
	interval := clampInterval(defaultInterval)

	for {
		s.SetNextETA(0)

		if s.cfg.Monitor.DeferToManual && s.guard.HasActive(SweepScheduled) {
			s.logger.Info("deferring scheduled sweep, another sweep is running")
		} else {
			if settings, err := s.db.LoadSettings(ctx); err == nil && settings.MonitorIntervalMins > 0 {
				interval = clampInterval(time.Duration(settings.MonitorIntervalMins) * time.Minute)
			}

			stats, err := s.SweepSince(ctx, SweepScheduled)
			switch {
			case err == ErrSweepInProgress:
				s.logger.Debug("scheduled sweep skipped, already running")
			case err != nil:
				// Sweep errors are recorded on the status surface, the
				// loop itself keeps going
				s.logger.WithError(err).Error("scheduled sweep failed")
			default:
				s.logger.InfoWithFields("scheduled sweep finished", map[string]interface{}{
					"accounts":   stats.AccountsProcessed,
					"created":    stats.PostsCreated,
					"classified": stats.PostsClassified,
				})
			}
		}

		sleepFor := interval
		if remaining := s.backoff.Remaining(); remaining > sleepFor {
			sleepFor = remaining
		}
		s.SetNextETA(sleepFor)

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepFor):
		}
	}
}

func clampInterval(d time.Duration) time.Duration {
	if d < 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
