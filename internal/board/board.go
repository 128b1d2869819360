// Package board is the timeline engine as the rendering layer sees it.
//
// A Board owns the current snapshot, the time scale, the cached layout, the
// gesture sessions with their override table, the undo history and the
// optimistic coordinator. One mutex serializes every call, which plays the
// role of the UI thread: layout and gestures never interleave with each
// other or with a background refresh.
package board

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"planboard/internal/eventbus"
	"planboard/internal/gesture"
	"planboard/internal/history"
	"planboard/internal/layout"
	"planboard/internal/model"
	"planboard/internal/optimistic"
	"planboard/internal/source"
	"planboard/internal/storage"
	"planboard/internal/timescale"
	logx "planboard/pkg/logx"
)

type Config struct {
	Store      storage.Store
	Dispatcher optimistic.Dispatcher
	History    *history.Manager
	Scale      timescale.Scale
	Resources  []model.Resource

	Layout   layout.Options
	Snap     gesture.Snapper
	Debounce time.Duration
	Grace    time.Duration
	Clock    optimistic.Clock
	Bus      eventbus.Bus
	Log      logx.Logger

	// GestureIdle abandons gestures without input for this long
	// (gesture.DefaultIdle when zero).
	GestureIdle time.Duration
}

type Board struct {
	mu sync.Mutex

	store   storage.Store
	coord   *optimistic.Coordinator
	hist    *history.Manager
	ctl     *gesture.Controller
	orphans *layout.OrphanReporter
	clock   optimistic.Clock
	idle    time.Duration
	log     logx.Logger

	opts      layout.Options
	scale     timescale.Scale
	resources []model.Resource

	// Derived state, rebuilt lazily when dirty.
	dirty  bool
	snap   model.Snapshot
	result layout.Result
	builds uint64
}

func New(cfg Config) *Board {
	if cfg.History == nil {
		cfg.History = history.New(history.DefaultCapacity)
	}
	if cfg.Clock == nil {
		cfg.Clock = optimistic.RealClock{}
	}
	if cfg.Layout == (layout.Options{}) {
		cfg.Layout = layout.DefaultOptions()
	}
	log := cfg.Log.Component("board")

	b := &Board{
		store:     cfg.Store,
		hist:      cfg.History,
		clock:     cfg.Clock,
		idle:      cfg.GestureIdle,
		log:       log,
		opts:      cfg.Layout,
		scale:     cfg.Scale,
		resources: append([]model.Resource(nil), cfg.Resources...),
		orphans:   layout.NewOrphanReporter(log, 30*time.Second),
		dirty:     true,
	}
	b.ctl = gesture.NewController(cfg.Scale, cfg.Snap, gesture.NewOverrides(), log)
	b.ctl.SetMinWidth(cfg.Layout.MinWidth)
	b.ctl.SetClock(cfg.Clock.Now)
	b.coord = optimistic.New(cfg.Store, cfg.Dispatcher, optimistic.Options{
		Debounce: cfg.Debounce,
		Grace:    cfg.Grace,
		Clock:    cfg.Clock,
		Bus:      cfg.Bus,
		Log:      cfg.Log,
		History:  cfg.History,
		OnChange: func(string) { b.invalidate() },
		OnRekey:  func(string, string) { b.invalidate() },
	})
	return b
}

func (b *Board) Coordinator() *optimistic.Coordinator { return b.coord }
func (b *Board) History() *history.Manager            { return b.hist }

// Close flushes unsaved changes. It must not run under b.mu: a rollback
// during the flush calls back into the board.
func (b *Board) Close(ctx context.Context) error {
	return b.coord.Close(ctx)
}

func (b *Board) invalidate() {
	b.mu.Lock()
	b.dirty = true
	b.mu.Unlock()
}

// Refresh marks the snapshot stale after the cache changed underneath. A
// non-nil resources slice replaces the lanes.
func (b *Board) Refresh(resources []model.Resource) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if resources != nil {
		b.resources = append([]model.Resource(nil), resources...)
	}
	b.dirty = true
}

// SweepPending drops expired expectations and relayouts when any went away.
func (b *Board) SweepPending() int {
	n := b.coord.Sweep(b.clock.Now())
	if n > 0 {
		b.invalidate()
	}
	return n
}

// ExpireGestures abandons gestures whose client stopped sending input and
// returns how many went away.
func (b *Board) ExpireGestures() int {
	ids := b.ctl.Expire(b.idle)
	if len(ids) > 0 {
		b.invalidate()
	}
	return len(ids)
}

// Snapshot returns the current (effective) snapshot.
func (b *Board) Snapshot() model.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureLocked()
	return b.snap
}

func (b *Board) Scale() timescale.Scale {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scale
}

// ensureLocked rebuilds the snapshot and layout when inputs changed.
func (b *Board) ensureLocked() {
	if !b.dirty {
		return
	}
	recs, err := b.store.List(context.Background())
	if err != nil {
		// Keep the previous snapshot; the next call retries.
		b.log.Error("read cache for snapshot", logx.Err(err))
		return
	}
	recs = b.effective(recs)
	b.snap = source.Build(b.resources, recs)
	b.result = layout.Compute(b.snap.Events, b.snap.Resources, b.scale, b.opts)
	b.orphans.Report(b.result.Orphans)
	b.dirty = false
	b.builds++
}

// effective substitutes live expectations for cached records. The cache
// normally agrees already; this keeps layout stable if something else
// wrote to it mid-flight.
func (b *Board) effective(recs []model.Record) []model.Record {
	pend := b.coord.PendingAll(b.clock.Now())
	if len(pend) == 0 {
		return recs
	}
	byID := make(map[string]int, len(recs))
	for i, r := range recs {
		byID[r.ID] = i
	}
	out := slices.Clone(recs)
	var gone []string
	for _, p := range pend {
		i, ok := byID[p.SourceItemID]
		switch {
		case p.Absent && ok:
			gone = append(gone, p.SourceItemID)
		case p.Absent:
		case ok:
			out[i] = p.Record
		default:
			out = append(out, p.Record)
		}
	}
	if len(gone) > 0 {
		out = slices.DeleteFunc(out, func(r model.Record) bool { return slices.Contains(gone, r.ID) })
	}
	slices.SortStableFunc(out, func(a, b model.Record) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
