package app

import (
	"context"
	"strings"
	"time"

	"planboard/internal/config"
	logx "planboard/pkg/logx"
)

const (
	scheduleRefresh = "source.refresh"
	scheduleSweep   = "pending.sweep"

	sweepEvery     = "5s"
	refreshTimeout = time.Minute
)

// registerSchedules (re)installs the periodic jobs. An empty refresh spec
// removes the refresh schedule; the sweep always runs.
func (a *App) registerSchedules(cfg *config.Config) error {
	if err := a.sched.AddSchedule(scheduleSweep, sweepEvery, 5*time.Second, func(context.Context) error {
		if n := a.board.SweepPending(); n > 0 {
			a.log.Debug("pending expectations expired", logx.Int("n", n))
		}
		if n := a.board.ExpireGestures(); n > 0 {
			a.log.Info("idle gestures abandoned", logx.Int("n", n))
		}
		return nil
	}); err != nil {
		return err
	}

	spec := strings.TrimSpace(cfg.Source.Refresh)
	if spec == "" {
		a.sched.Remove(scheduleRefresh)
		return nil
	}
	return a.sched.AddSchedule(scheduleRefresh, spec, refreshTimeout, a.refresher.Run)
}
