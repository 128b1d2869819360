package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"planboard/internal/eventbus"
	"planboard/internal/model"
	"planboard/internal/optimistic"
	logx "planboard/pkg/logx"
)

// Reconciler merges fresh records into the local cache.
type Reconciler interface {
	Reconcile(ctx context.Context, records []model.Record) (optimistic.ReconcileResult, error)
}

// Status describes the last refresh.
type Status struct {
	Feed      string                     `json:"feed"`
	LastRun   time.Time                  `json:"last_run,omitzero"`
	LastOK    time.Time                  `json:"last_ok,omitzero"`
	LastError string                     `json:"last_error,omitempty"`
	Resources int                        `json:"resources"`
	Records   int                        `json:"records"`
	Result    optimistic.ReconcileResult `json:"result"`
	Took      time.Duration              `json:"took"`
}

// Refresher runs one background refresh: feed, then cache reconcile, then
// the onRefresh hook (the board rebuilds its snapshot there). It is driven by
// the scheduler; Run is safe to call concurrently but runs one at a time.
type Refresher struct {
	feed      Feed
	rec       Reconciler
	onRefresh func(resources []model.Resource)
	log       logx.Logger
	bus       eventbus.Bus

	run    sync.Mutex
	mu     sync.Mutex
	status Status
}

func NewRefresher(feed Feed, rec Reconciler, onRefresh func([]model.Resource), log logx.Logger, bus eventbus.Bus) *Refresher {
	return &Refresher{
		feed:      feed,
		rec:       rec,
		onRefresh: onRefresh,
		log:       log.Component("source").With(logx.String("feed", feed.Name())),
		bus:       bus,
		status:    Status{Feed: feed.Name()},
	}
}

func (r *Refresher) Run(ctx context.Context) error {
	r.run.Lock()
	defer r.run.Unlock()

	start := time.Now()
	d, err := r.feed.Fetch(ctx)
	var res optimistic.ReconcileResult
	if err == nil && len(d.Resources) == 0 {
		err = ErrEmptyFeed
	}
	if err == nil {
		res, err = r.rec.Reconcile(ctx, d.Records)
	}

	r.mu.Lock()
	r.status.LastRun = start
	r.status.Took = time.Since(start)
	if err != nil {
		r.status.LastError = err.Error()
	} else {
		r.status.LastOK = start
		r.status.LastError = ""
		r.status.Resources = len(d.Resources)
		r.status.Records = len(d.Records)
		r.status.Result = res
	}
	r.mu.Unlock()

	if err != nil {
		r.log.Warn("refresh failed", logx.Err(err))
		return fmt.Errorf("refresh %s: %w", r.feed.Name(), err)
	}
	if r.onRefresh != nil {
		r.onRefresh(d.Resources)
	}
	r.log.Debug("refresh done",
		logx.Int("records", len(d.Records)),
		logx.Int("written", res.Written),
		logx.Int("deleted", res.Deleted),
		logx.Int("masked", res.Masked),
		logx.Duration("took", time.Since(start)),
	)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeSnapshotRefresh, Time: time.Now()})
	}
	return nil
}

func (r *Refresher) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}
