package layout

import (
	"time"

	logx "planboard/pkg/logx"

	"golang.org/x/time/rate"
)

// OrphanReporter logs dropped events at WARN, at most once per interval, so a
// broken feed re-rendered every frame does not flood the log.
type OrphanReporter struct {
	log   logx.Logger
	every *rate.Sometimes
}

func NewOrphanReporter(log logx.Logger, interval time.Duration) *OrphanReporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &OrphanReporter{log: log, every: &rate.Sometimes{First: 1, Interval: interval}}
}

// Report returns true when the orphans were actually logged.
func (r *OrphanReporter) Report(orphans []Orphan) bool {
	if r == nil || len(orphans) == 0 {
		return false
	}
	logged := false
	r.every.Do(func() {
		logged = true
		const maxListed = 10
		listed := orphans
		if len(listed) > maxListed {
			listed = listed[:maxListed]
		}
		r.log.Warn("events reference unknown resources; dropped from layout",
			logx.Int("count", len(orphans)),
			logx.Any("orphans", listed),
		)
	})
	return logged
}
