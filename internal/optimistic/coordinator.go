// Package optimistic applies interactive edits to the local cache at once
// and reconciles them with the remote store in the background.
//
// Every item with unsaved edits owns a slot. Commits to the same item within
// the debounce window fold into a single remote write; at most one write per
// item is in flight, later commits queue behind it. A failed write reverts
// the cache to the state before the slot opened and drops the history
// actions it carried.
package optimistic

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"planboard/internal/eventbus"
	"planboard/internal/model"
	"planboard/internal/storage"
	logx "planboard/pkg/logx"
)

type Options struct {
	Debounce time.Duration
	Grace    time.Duration
	Clock    Clock
	Bus      eventbus.Bus
	Log      logx.Logger
	History  History
	// OnChange runs after a background completion touched the cache
	// (rollback, rekey). It is called without internal locks held.
	OnChange func(sourceItemID string)
	// OnRekey runs after a created item received its remote id.
	OnRekey func(oldID, newID string)
}

type slot struct {
	key string
	// base is the cache state when the slot opened, or after the last
	// successful write; rollback restores it.
	base       model.Record
	baseExists bool
	// actions folded into the queued (not yet flushed) edits.
	actions []string
	// inflightActions travel with the write currently in flight.
	inflightActions []string
	// rollbacks mirror actions for changes that carry a rollback hook.
	rollbacks         []func()
	inflightRollbacks []func()
	lastEventID     string
	lastKind        model.ActionKind

	timer    Timer
	armSeq   uint64
	inflight bool
	dirty    bool
	gen      uint64
}

type Coordinator struct {
	mu       sync.Mutex
	store    storage.Store
	dispatch Dispatcher
	opt      Options
	log      logx.Logger

	slots      map[string]*slot
	pending    map[string]Pending
	tombstones map[string]model.Record
	failures   []Failure
	gen        uint64
	closed     bool
}

func New(store storage.Store, dispatcher Dispatcher, opt Options) *Coordinator {
	if opt.Debounce <= 0 {
		opt.Debounce = DefaultDebounce
	}
	if opt.Grace <= 0 {
		opt.Grace = DefaultGrace
	}
	if opt.Clock == nil {
		opt.Clock = RealClock{}
	}
	return &Coordinator{
		store:      store,
		dispatch:   dispatcher,
		opt:        opt,
		log:        opt.Log.Component("optimistic"),
		slots:      map[string]*slot{},
		pending:    map[string]Pending{},
		tombstones: map[string]model.Record{},
	}
}

// Commit writes the change to the cache synchronously, records the
// expectation and schedules the coalesced remote write.
func (c *Coordinator) Commit(ctx context.Context, ch Change) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	key := ch.SourceItemID

	cur, exists, err := c.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read cache %s: %w", key, err)
	}

	var next model.Record
	switch {
	case ch.Next.Absent:
		if exists {
			if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("delete cache %s: %w", key, err)
			}
			c.tombstones[key] = cur
		}
	case exists:
		next = cur.Apply(ch.Next, ch.FromResource)
	default:
		tmpl, ok := c.tombstones[key]
		if ch.Template != nil {
			tmpl, ok = *ch.Template, true
		}
		if !ok && ch.Kind != model.ActionCreate {
			return fmt.Errorf("%w: %s", ErrUnknownItem, key)
		}
		next = tmpl
		next.ID = key
		next.Start, next.End = ch.Next.Start, ch.Next.End
		// A restored item keeps every assignment it had.
		if ch.Next.ResourceID != "" && !slices.Contains(next.ResourceIDs, ch.Next.ResourceID) {
			next.ResourceIDs = []string{ch.Next.ResourceID}
		}
	}
	now := c.opt.Clock.Now()
	if !ch.Next.Absent {
		next.UpdatedAt = now
		if err := c.store.Update(ctx, key, next); err != nil {
			return fmt.Errorf("write cache %s: %w", key, err)
		}
		delete(c.tombstones, key)
	}

	s := c.slots[key]
	if s == nil {
		s = &slot{key: key, base: cur, baseExists: exists}
		c.slots[key] = s
	}
	if ch.ActionID != "" {
		s.actions = append(s.actions, ch.ActionID)
	}
	if ch.OnRollback != nil {
		s.rollbacks = append(s.rollbacks, ch.OnRollback)
	}
	s.lastEventID, s.lastKind = ch.EventID, ch.Kind

	c.gen++
	c.pending[key] = Pending{
		EventID:      ch.EventID,
		SourceItemID: key,
		Kind:         ch.Kind,
		Expected:     ch.Next,
		Record:       next,
		Absent:       ch.Next.Absent,
		CreatedAt:    now,
		Gen:          c.gen,
	}

	if s.inflight {
		s.dirty = true
	} else {
		c.armLocked(s)
	}
	c.log.Debug("change committed", logx.Item(key), logx.String("kind", string(ch.Kind)), logx.Bool("queued", s.inflight))
	c.publish(eventbus.TypeChangeCommitted, eventbus.Change{EventID: ch.EventID, SourceItemID: key, Kind: string(ch.Kind)})
	return nil
}

// armLocked (re)starts the quiet-period timer of s.
func (c *Coordinator) armLocked(s *slot) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.armSeq++
	key, seq := s.key, s.armSeq
	s.timer = c.opt.Clock.AfterFunc(c.opt.Debounce, func() { c.flush(key, seq) })
}

// flush sends the coalesced write of one slot.
func (c *Coordinator) flush(key string, seq uint64) {
	c.mu.Lock()
	s := c.slots[key]
	if s == nil || s.inflight || s.armSeq != seq {
		c.mu.Unlock()
		return
	}
	s.timer = nil

	cur, exists, err := c.store.Get(context.Background(), key)
	if err != nil {
		c.mu.Unlock()
		c.log.Error("read cache before flush", logx.Item(key), logx.Err(err))
		c.fail(key, 0, err)
		return
	}

	var w Write
	switch {
	case exists && s.baseExists:
		w = Write{Kind: WritePatch, SourceItemID: key, Record: cur}
	case exists:
		w = Write{Kind: WriteCreate, SourceItemID: key, Record: cur}
	case s.baseExists:
		w = Write{Kind: WriteDelete, SourceItemID: key, Record: s.base}
	default:
		// Created and removed again before anything was sent.
		c.closeSlotLocked(s)
		c.mu.Unlock()
		return
	}

	c.gen++
	s.gen = c.gen
	s.inflight = true
	s.dirty = false
	s.inflightActions, s.actions = s.actions, nil
	s.inflightRollbacks, s.rollbacks = s.rollbacks, nil
	gen := s.gen
	c.mu.Unlock()

	c.log.Debug("write dispatched", logx.Item(key), logx.String("write", w.Kind.String()))
	err = c.dispatch.Dispatch(w, func(newID string, err error) { c.complete(key, gen, w, newID, err) })
	if err != nil {
		c.complete(key, gen, w, "", err)
	}
}

func (c *Coordinator) complete(key string, gen uint64, w Write, newID string, err error) {
	if err != nil {
		c.fail(key, gen, err)
		return
	}

	c.mu.Lock()
	s := c.slots[key]
	if s == nil || s.gen != gen {
		c.mu.Unlock()
		return
	}
	now := c.opt.Clock.Now()
	rekeyed := ""
	if w.Kind == WriteCreate && newID != "" && newID != key {
		c.rekeyLocked(s, newID)
		if c.opt.History != nil {
			c.opt.History.Rekey(key, newID)
		}
		rekeyed = newID
	}

	s.inflight = false
	s.inflightActions = nil
	s.inflightRollbacks = nil
	if w.Kind == WriteDelete {
		s.base, s.baseExists = model.Record{}, false
	} else {
		s.base, s.baseExists = w.Record, true
		s.base.ID = s.key
	}

	settled := !s.dirty
	if s.dirty {
		s.dirty = false
		c.armLocked(s)
	} else {
		c.closeSlotLocked(s)
		if p, ok := c.pending[s.key]; ok {
			p.ExpiresAt = now.Add(c.opt.Grace)
			c.pending[s.key] = p
		}
	}
	change := eventbus.Change{EventID: s.lastEventID, SourceItemID: s.key, Kind: string(s.lastKind)}
	c.mu.Unlock()

	c.log.Debug("write completed", logx.Item(change.SourceItemID), logx.String("write", w.Kind.String()), logx.Bool("settled", settled))
	if settled {
		c.publish(eventbus.TypeChangeConfirmed, change)
	}
	if rekeyed != "" {
		if c.opt.OnRekey != nil {
			c.opt.OnRekey(key, rekeyed)
		}
		c.notifyChange(rekeyed)
	}
}

// rekeyLocked moves every reference of a created item from its temporary
// id to the remote one.
func (c *Coordinator) rekeyLocked(s *slot, newID string) {
	ctx := context.Background()
	oldID := s.key
	if rec, ok, err := c.store.Get(ctx, oldID); err == nil && ok {
		rec.ID = newID
		if err := c.store.Update(ctx, newID, rec); err != nil {
			c.log.Error("rekey cache write", logx.Item(newID), logx.Err(err))
		}
		_ = c.store.Delete(ctx, oldID)
	}
	delete(c.slots, oldID)
	s.key = newID
	c.slots[newID] = s
	if p, ok := c.pending[oldID]; ok {
		delete(c.pending, oldID)
		p.SourceItemID = newID
		p.Record.ID = newID
		if _, res, ok := model.SplitEventID(p.EventID); ok {
			p.EventID = model.EventID(newID, res)
		}
		c.pending[newID] = p
	}
	if _, res, ok := model.SplitEventID(s.lastEventID); ok {
		s.lastEventID = model.EventID(newID, res)
	}
	c.log.Info("created item received remote id", logx.String("temp_id", oldID), logx.String("id", newID))
}

// fail rolls the slot back. gen 0 matches the slot regardless of generation.
func (c *Coordinator) fail(key string, gen uint64, cause error) {
	c.mu.Lock()
	s := c.slots[key]
	if s == nil || (gen != 0 && s.gen != gen) {
		c.mu.Unlock()
		return
	}
	ctx := context.Background()
	if s.baseExists {
		if err := c.store.Update(ctx, key, s.base); err != nil {
			c.log.Error("rollback cache write", logx.Item(key), logx.Err(err))
		}
	} else if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.log.Error("rollback cache delete", logx.Item(key), logx.Err(err))
	}
	delete(c.tombstones, key)

	dropped := slices.Concat(s.inflightActions, s.actions)
	hooks := slices.Concat(s.inflightRollbacks, s.rollbacks)
	f := Failure{
		SourceItemID: key,
		EventID:      s.lastEventID,
		Kind:         s.lastKind,
		Actions:      len(dropped),
		Err:          cause.Error(),
		At:           c.opt.Clock.Now(),
	}
	c.failures = append(c.failures, f)
	if over := len(c.failures) - maxFailures; over > 0 {
		c.failures = append(c.failures[:0:0], c.failures[over:]...)
	}
	delete(c.pending, key)
	c.closeSlotLocked(s)
	c.mu.Unlock()

	if c.opt.History != nil && len(dropped) > 0 {
		c.opt.History.Discard(dropped...)
	}
	for _, fn := range hooks {
		fn()
	}
	c.log.Error("remote write failed; change reverted",
		logx.Item(key),
		logx.String("kind", string(f.Kind)),
		logx.Int("actions", f.Actions),
		logx.Err(cause),
	)
	c.publish(eventbus.TypeNoticeError, eventbus.Notice{
		EventID:      f.EventID,
		SourceItemID: key,
		Message:      fmt.Sprintf("Could not save %s; the change was reverted.", noun(f.Kind)),
		Err:          f.Err,
	})
	c.notifyChange(key)
}

func noun(k model.ActionKind) string {
	switch k {
	case model.ActionCreate:
		return "the new item"
	case model.ActionDelete:
		return "the deletion"
	case "":
		return "the change"
	default:
		return "the " + string(k)
	}
}

func (c *Coordinator) closeSlotLocked(s *slot) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	delete(c.slots, s.key)
}

func (c *Coordinator) publish(typ string, data any) {
	if c.opt.Bus != nil {
		c.opt.Bus.Publish(eventbus.Event{Type: typ, Time: c.opt.Clock.Now(), Data: data})
	}
}

func (c *Coordinator) notifyChange(key string) {
	if c.opt.OnChange != nil {
		c.opt.OnChange(key)
	}
}

// Expected returns the live expectation for an item. Expired entries are
// removed on the way.
func (c *Coordinator) Expected(sourceItemID string, now time.Time) (Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[sourceItemID]
	if !ok {
		return Pending{}, false
	}
	if p.expired(now) {
		delete(c.pending, sourceItemID)
		return Pending{}, false
	}
	return p, true
}

// PendingAll lists live expectations.
func (c *Coordinator) PendingAll(now time.Time) []Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Pending, 0, len(c.pending))
	for _, p := range c.pending {
		if !p.expired(now) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Pending) int { return cmp.Compare(a.Gen, b.Gen) })
	return out
}

// Sweep drops expired expectations and returns how many were removed.
func (c *Coordinator) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, p := range c.pending {
		if p.expired(now) {
			delete(c.pending, k)
			n++
		}
	}
	return n
}

// Confirm clears the expectation of an item whose write the remote has
// acknowledged out of band. Items with an open slot keep theirs.
func (c *Coordinator) Confirm(sourceItemID string) bool {
	c.mu.Lock()
	p, ok := c.pending[sourceItemID]
	if !ok || c.slots[sourceItemID] != nil {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, sourceItemID)
	c.mu.Unlock()
	c.publish(eventbus.TypeChangeConfirmed, eventbus.Change{EventID: p.EventID, SourceItemID: sourceItemID, Kind: string(p.Kind)})
	return true
}

// IsOpen reports whether the item has a queued or in-flight write.
func (c *Coordinator) IsOpen(sourceItemID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots[sourceItemID] != nil
}

// ReconcileResult summarizes one background refresh.
type ReconcileResult struct {
	Written   int
	Deleted   int
	Masked    int
	Confirmed int
}

// Reconcile replaces the cache with fresh remote records. Items with an open
// slot are left alone; items with a live expectation are written only when
// the remote agrees with it (which confirms it).
func (c *Coordinator) Reconcile(ctx context.Context, records []model.Record) (ReconcileResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var res ReconcileResult
	if c.closed {
		return res, ErrClosed
	}
	now := c.opt.Clock.Now()

	// masked reports whether remote data for id must not overwrite the cache.
	masked := func(id string, rec *model.Record) bool {
		if c.slots[id] != nil {
			return true
		}
		p, ok := c.pending[id]
		if !ok {
			return false
		}
		if p.expired(now) || agrees(p, rec) {
			delete(c.pending, id)
			if !p.expired(now) {
				res.Confirmed++
			}
			return false
		}
		return true
	}

	seen := make(map[string]bool, len(records))
	for i := range records {
		rec := records[i]
		if rec.ID == "" {
			continue
		}
		seen[rec.ID] = true
		if masked(rec.ID, &rec) {
			res.Masked++
			continue
		}
		if err := c.store.Update(ctx, rec.ID, rec); err != nil {
			return res, fmt.Errorf("reconcile %s: %w", rec.ID, err)
		}
		res.Written++
	}

	cached, err := c.store.List(ctx)
	if err != nil {
		return res, fmt.Errorf("reconcile list: %w", err)
	}
	for _, rec := range cached {
		if seen[rec.ID] {
			continue
		}
		if masked(rec.ID, nil) {
			res.Masked++
			continue
		}
		if err := c.store.Delete(ctx, rec.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return res, fmt.Errorf("reconcile delete %s: %w", rec.ID, err)
		}
		res.Deleted++
	}
	c.log.Debug("cache reconciled", logx.Int("written", res.Written), logx.Int("deleted", res.Deleted), logx.Int("masked", res.Masked), logx.Int("confirmed", res.Confirmed))
	return res, nil
}

// agrees reports whether remote data (nil meaning "absent") matches p.
func agrees(p Pending, rec *model.Record) bool {
	if rec == nil || p.Absent {
		return rec == nil && p.Absent
	}
	return rec.Start.Equal(p.Record.Start) && rec.End.Equal(p.Record.End) && slices.Equal(rec.ResourceIDs, p.Record.ResourceIDs)
}

// Failures returns the most recent rolled back writes, oldest first.
func (c *Coordinator) Failures() []Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Failure(nil), c.failures...)
}

// Open reports how many items have unsaved edits.
func (c *Coordinator) Open() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// Close flushes every queued slot at once and waits (bounded by ctx) for
// in-flight writes to finish. Later commits fail with ErrClosed.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	type due struct {
		key string
		seq uint64
	}
	var flush []due
	for _, s := range c.slots {
		if !s.inflight {
			if s.timer != nil {
				s.timer.Stop()
				s.timer = nil
			}
			flush = append(flush, due{s.key, s.armSeq})
		}
	}
	c.mu.Unlock()

	for _, d := range flush {
		c.flush(d.key, d.seq)
	}

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for c.Open() > 0 {
		select {
		case <-ctx.Done():
			c.log.Warn("closing with unsaved changes", logx.Int("open", c.Open()))
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}
