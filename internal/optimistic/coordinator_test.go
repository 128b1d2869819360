package optimistic

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"planboard/internal/eventbus"
	"planboard/internal/history"
	"planboard/internal/model"
	"planboard/internal/remote"
	"planboard/internal/storage"
	"planboard/internal/task/engine"
	logx "planboard/pkg/logx"
)

var base = time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return base.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

type call struct {
	w    Write
	done func(string, error)
}

type fakeDispatcher struct {
	mu     sync.Mutex
	calls  []call
	reject error
}

func (f *fakeDispatcher) Dispatch(w Write, done func(string, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject != nil {
		return f.reject
	}
	f.calls = append(f.calls, call{w, done})
	return nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeDispatcher) last(t *testing.T) call {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatalf("no write dispatched")
	}
	return f.calls[len(f.calls)-1]
}

type fixture struct {
	c     *Coordinator
	store storage.Store
	clock *ManualClock
	disp  *fakeDispatcher
	hist  *history.Manager
	bus   eventbus.Bus
}

func newFixture(t *testing.T, seed ...model.Record) fixture {
	t.Helper()
	store := storage.NewMemory()
	for _, r := range seed {
		if err := store.Update(context.Background(), r.ID, r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	f := fixture{
		store: store,
		clock: NewManualClock(at(8, 0)),
		disp:  &fakeDispatcher{},
		hist:  history.New(10),
		bus:   eventbus.New(),
	}
	f.c = New(store, f.disp, Options{Clock: f.clock, Bus: f.bus, Log: logx.Nop(), History: f.hist})
	return f
}

func task(id string, startH, endH int, res ...string) model.Record {
	return model.Record{ID: id, Title: "task " + id, Start: at(startH, 0), End: at(endH, 0), ResourceIDs: res}
}

// move pushes a history action and commits it, like the board does.
func (f fixture) move(t *testing.T, id string, start, end time.Time) history.Action {
	t.Helper()
	cur, _, _ := f.store.Get(context.Background(), id)
	a := f.hist.Push(history.Action{
		Kind:         model.ActionMove,
		EventID:      model.EventID(id, "r1"),
		SourceItemID: id,
		Prev:         model.State{Start: cur.Start, End: cur.End, ResourceID: "r1"},
		Next:         model.State{Start: start, End: end, ResourceID: "r1"},
	})
	err := f.c.Commit(context.Background(), Change{
		ActionID:     a.ID,
		Kind:         a.Kind,
		EventID:      a.EventID,
		SourceItemID: id,
		FromResource: "r1",
		Next:         a.Next,
	})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	return a
}

func (f fixture) cached(t *testing.T, id string) model.Record {
	t.Helper()
	r, ok, err := f.store.Get(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("cache Get(%s) = %v, %v", id, ok, err)
	}
	return r
}

func TestCommitIsSynchronousAndCoalesced(t *testing.T) {
	t.Parallel()

	f := newFixture(t, task("t1", 9, 10, "r1"))
	for i := 1; i <= 3; i++ {
		f.move(t, "t1", at(9+i, 0), at(10+i, 0))
		if got := f.cached(t, "t1").Start; !got.Equal(at(9+i, 0)) {
			t.Fatalf("cache start after commit %d = %v, want %v", i, got, at(9+i, 0))
		}
		f.clock.Advance(100 * time.Millisecond)
	}
	if n := f.disp.count(); n != 0 {
		t.Fatalf("writes before quiet period = %d, want 0", n)
	}
	f.clock.Advance(200 * time.Millisecond)
	if n := f.disp.count(); n != 1 {
		t.Fatalf("writes after quiet period = %d, want 1", n)
	}
	w := f.disp.last(t).w
	if w.Kind != WritePatch || !w.Record.Start.Equal(at(12, 0)) {
		t.Fatalf("write = %v start %v, want patch at 12:00", w.Kind, w.Record.Start)
	}

	f.disp.last(t).done("", nil)
	if f.c.IsOpen("t1") {
		t.Fatalf("slot still open after success")
	}
	p, ok := f.c.Expected("t1", f.clock.Now())
	if !ok || !p.Expected.Start.Equal(at(12, 0)) {
		t.Fatalf("Expected() = %+v, %v; want live expectation at 12:00", p, ok)
	}
	if _, ok := f.c.Expected("t1", f.clock.Now().Add(DefaultGrace)); ok {
		t.Fatalf("expectation survived the grace period")
	}
	if f.hist.UndoCount() != 3 {
		t.Fatalf("UndoCount() = %d, want 3", f.hist.UndoCount())
	}
}

func TestFailedWriteRollsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t, task("t1", 9, 10, "r1"))
	notices, unsub := f.bus.Subscribe(4, eventbus.TypeNoticeError)
	defer unsub()

	f.move(t, "t1", at(14, 0), at(15, 0))
	if got := f.cached(t, "t1").Start; !got.Equal(at(14, 0)) {
		t.Fatalf("optimistic start = %v, want 14:00", got)
	}
	f.clock.Advance(DefaultDebounce)
	f.disp.last(t).done("", errors.New("503 service unavailable"))

	if got := f.cached(t, "t1").Start; !got.Equal(at(9, 0)) {
		t.Fatalf("start after rollback = %v, want 09:00", got)
	}
	if f.hist.CanUndo() {
		t.Fatalf("history kept the reverted action")
	}
	if _, ok := f.c.Expected("t1", f.clock.Now()); ok {
		t.Fatalf("pending entry survived rollback")
	}
	if fs := f.c.Failures(); len(fs) != 1 || fs[0].Actions != 1 || fs[0].SourceItemID != "t1" {
		t.Fatalf("Failures() = %+v", fs)
	}
	select {
	case ev := <-notices:
		n, ok := ev.Data.(eventbus.Notice)
		if !ok || n.SourceItemID != "t1" || n.Message == "" {
			t.Fatalf("notice = %+v", ev.Data)
		}
	default:
		t.Fatalf("no notice.error published")
	}
}

func TestCommitsQueueBehindInflightWrite(t *testing.T) {
	t.Parallel()

	f := newFixture(t, task("t1", 9, 10, "r1"))
	first := f.move(t, "t1", at(10, 0), at(11, 0))
	f.clock.Advance(DefaultDebounce)
	inflight := f.disp.last(t)

	f.move(t, "t1", at(12, 0), at(13, 0))
	f.clock.Advance(time.Second)
	if n := f.disp.count(); n != 1 {
		t.Fatalf("writes while in flight = %d, want 1", n)
	}

	inflight.done("", nil)
	f.clock.Advance(DefaultDebounce)
	if n := f.disp.count(); n != 2 {
		t.Fatalf("writes after first completed = %d, want 2", n)
	}

	// The second write fails: only its action goes, and the cache returns to
	// what the first write saved.
	f.disp.last(t).done("", errors.New("timeout"))
	if got := f.cached(t, "t1").Start; !got.Equal(at(10, 0)) {
		t.Fatalf("start after second rollback = %v, want 10:00", got)
	}
	actions, cursor := f.hist.Actions()
	if len(actions) != 1 || actions[0].ID != first.ID || cursor != 0 {
		t.Fatalf("history = %d actions cursor %d, want only %s", len(actions), cursor, first.ID)
	}
}

func TestDispatchRejectedRollsBackImmediately(t *testing.T) {
	t.Parallel()

	f := newFixture(t, task("t1", 9, 10, "r1"))
	f.disp.reject = engine.ErrQueueFull
	f.move(t, "t1", at(11, 0), at(12, 0))
	f.clock.Advance(DefaultDebounce)
	if got := f.cached(t, "t1").Start; !got.Equal(at(9, 0)) {
		t.Fatalf("start = %v, want reverted 09:00", got)
	}
	if fs := f.c.Failures(); len(fs) != 1 || !strings.Contains(fs[0].Err, engine.ErrQueueFull.Error()) {
		t.Fatalf("Failures() = %+v", fs)
	}
}

func TestCreateIsRekeyed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var rekeys [][2]string
	f.c.opt.OnRekey = func(o, n string) { rekeys = append(rekeys, [2]string{o, n}) }

	a := f.hist.Push(history.Action{Kind: model.ActionCreate, EventID: "tmp-1@r2", SourceItemID: "tmp-1",
		Prev: model.State{Absent: true}, Next: model.State{Start: at(9, 0), End: at(10, 0), ResourceID: "r2"}})
	err := f.c.Commit(context.Background(), Change{ActionID: a.ID, Kind: model.ActionCreate, EventID: a.EventID,
		SourceItemID: "tmp-1", Next: a.Next, Template: &model.Record{Title: "New item"}})
	if err != nil {
		t.Fatalf("Commit(create) error = %v", err)
	}
	if r := f.cached(t, "tmp-1"); r.Title != "New item" || r.ResourceIDs[0] != "r2" {
		t.Fatalf("cached create = %+v", r)
	}

	f.clock.Advance(DefaultDebounce)
	c := f.disp.last(t)
	if c.w.Kind != WriteCreate {
		t.Fatalf("write kind = %v, want create", c.w.Kind)
	}
	c.done("42", nil)

	if _, ok, _ := f.store.Get(context.Background(), "tmp-1"); ok {
		t.Fatalf("temporary id still cached")
	}
	if r := f.cached(t, "42"); r.ID != "42" || r.Title != "New item" {
		t.Fatalf("rekeyed record = %+v", r)
	}
	undo, _ := f.hist.Undo()
	if undo.SourceItemID != "42" || undo.EventID != "42@r2" {
		t.Fatalf("history not rekeyed: %+v", undo)
	}
	if len(rekeys) != 1 || rekeys[0] != [2]string{"tmp-1", "42"} {
		t.Fatalf("OnRekey calls = %v", rekeys)
	}
	if p, ok := f.c.Expected("42", f.clock.Now()); !ok || p.EventID != "42@r2" {
		t.Fatalf("Expected(42) = %+v, %v", p, ok)
	}
}

func TestCreateThenDeleteSendsNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	next := model.State{Start: at(9, 0), End: at(10, 0), ResourceID: "r1"}
	_ = f.c.Commit(ctx, Change{Kind: model.ActionCreate, SourceItemID: "tmp-2", Next: next})
	_ = f.c.Commit(ctx, Change{Kind: model.ActionDelete, SourceItemID: "tmp-2", Next: model.State{Absent: true}})
	f.clock.Advance(DefaultDebounce)
	if n := f.disp.count(); n != 0 {
		t.Fatalf("writes = %d, want 0", n)
	}
	if f.c.Open() != 0 {
		t.Fatalf("Open() = %d, want 0", f.c.Open())
	}
}

func TestDeleteThenUndoRestoresFromTombstone(t *testing.T) {
	t.Parallel()

	f := newFixture(t, task("t1", 9, 10, "r1"))
	ctx := context.Background()
	_ = f.c.Commit(ctx, Change{Kind: model.ActionDelete, SourceItemID: "t1", Next: model.State{Absent: true}})
	if _, ok, _ := f.store.Get(ctx, "t1"); ok {
		t.Fatalf("deleted item still cached")
	}
	f.clock.Advance(DefaultDebounce)
	if w := f.disp.last(t).w; w.Kind != WriteDelete {
		t.Fatalf("write kind = %v, want delete", w.Kind)
	}
	f.disp.last(t).done("", nil)

	err := f.c.Commit(ctx, Change{Kind: model.ActionDelete, SourceItemID: "t1", Next: model.State{Start: at(9, 0), End: at(10, 0), ResourceID: "r1"}})
	if err != nil {
		t.Fatalf("Commit(restore) error = %v", err)
	}
	if r := f.cached(t, "t1"); r.Title != "task t1" {
		t.Fatalf("restored record = %+v, want title kept", r)
	}
	f.clock.Advance(DefaultDebounce)
	if w := f.disp.last(t).w; w.Kind != WriteCreate {
		t.Fatalf("restore write kind = %v, want create", w.Kind)
	}
}

func TestCommitUnknownItem(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.c.Commit(context.Background(), Change{Kind: model.ActionMove, SourceItemID: "ghost", Next: model.State{Start: at(1, 0), End: at(2, 0)}})
	if !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("Commit(ghost) error = %v, want ErrUnknownItem", err)
	}
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, task("open", 9, 10, "r1"), task("pend", 9, 10, "r1"), task("stale", 9, 10, "r1"), task("gone", 9, 10, "r1"))
	ctx := context.Background()

	// "pend" has a completed write and a live expectation at 11:00.
	f.move(t, "pend", at(11, 0), at(12, 0))
	f.clock.Advance(DefaultDebounce)
	f.disp.last(t).done("", nil)
	// "open" has a queued write.
	f.move(t, "open", at(15, 0), at(16, 0))

	remoteRecs := []model.Record{
		task("open", 9, 10, "r1"),  // old data, slot open: masked
		task("pend", 9, 10, "r1"),  // disagrees with expectation: masked
		task("stale", 7, 8, "r1"),  // plain refresh
		task("fresh", 13, 14, "r2"), // new item
	}
	res, err := f.c.Reconcile(ctx, remoteRecs)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Masked != 2 || res.Written != 2 || res.Deleted != 1 {
		t.Fatalf("Reconcile() = %+v, want masked 2 written 2 deleted 1", res)
	}
	if got := f.cached(t, "open").Start; !got.Equal(at(15, 0)) {
		t.Fatalf("open slot overwritten: %v", got)
	}
	if got := f.cached(t, "pend").Start; !got.Equal(at(11, 0)) {
		t.Fatalf("pending item overwritten: %v", got)
	}
	if got := f.cached(t, "stale").Start; !got.Equal(at(7, 0)) {
		t.Fatalf("refreshed item = %v, want 07:00", got)
	}
	if _, ok, _ := f.store.Get(ctx, "gone"); ok {
		t.Fatalf("item missing remotely was kept")
	}

	// The remote catches up: the expectation is confirmed and cleared.
	remoteRecs[1] = task("pend", 11, 12, "r1")
	res, _ = f.c.Reconcile(ctx, remoteRecs)
	if res.Confirmed != 1 {
		t.Fatalf("Confirmed = %d, want 1", res.Confirmed)
	}
	if _, ok := f.c.Expected("pend", f.clock.Now()); ok {
		t.Fatalf("expectation not cleared by agreeing refresh")
	}
}

func TestSweepAndConfirm(t *testing.T) {
	t.Parallel()

	f := newFixture(t, task("a", 9, 10, "r1"), task("b", 9, 10, "r1"))
	for _, id := range []string{"a", "b"} {
		f.move(t, id, at(11, 0), at(12, 0))
	}
	f.clock.Advance(DefaultDebounce)
	f.disp.mu.Lock()
	calls := append([]call(nil), f.disp.calls...)
	f.disp.mu.Unlock()
	for _, c := range calls {
		c.done("", nil)
	}

	if !f.c.Confirm("a") {
		t.Fatalf("Confirm(a) = false")
	}
	if f.c.Confirm("a") {
		t.Fatalf("second Confirm(a) = true")
	}
	if n := f.c.Sweep(f.clock.Now()); n != 0 {
		t.Fatalf("Sweep() before grace = %d, want 0", n)
	}
	if n := f.c.Sweep(f.clock.Now().Add(DefaultGrace)); n != 1 {
		t.Fatalf("Sweep() after grace = %d, want 1", n)
	}
}

func TestEngineDispatcherEndToEnd(t *testing.T) {
	t.Parallel()

	eng := engine.New(engine.Config{Workers: 1, RetryMax: -1}, logx.Nop(), nil)
	eng.Start(context.Background())
	defer eng.Stop(context.Background())

	rem := remote.NewMemory(task("t1", 9, 10, "r1"))
	store := storage.NewMemory()
	_ = store.Update(context.Background(), "t1", task("t1", 9, 10, "r1"))
	bus := eventbus.New()
	settled, unsub := bus.Subscribe(4, eventbus.TypeChangeConfirmed, eventbus.TypeNoticeError)
	defer unsub()

	clock := NewManualClock(at(8, 0))
	c := New(store, EngineDispatcher{Engine: eng, Remote: rem}, Options{Clock: clock, Bus: bus, Log: logx.Nop()})
	err := c.Commit(context.Background(), Change{Kind: model.ActionResize, EventID: "t1@r1", SourceItemID: "t1", FromResource: "r1",
		Next: model.State{Start: at(9, 0), End: at(11, 30), ResourceID: "r1"}})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	clock.Advance(DefaultDebounce)

	select {
	case ev := <-settled:
		if ev.Type != eventbus.TypeChangeConfirmed {
			t.Fatalf("event = %s, want confirmation", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("write never completed")
	}
	if r, _ := rem.Record("t1"); !r.End.Equal(at(11, 30)) {
		t.Fatalf("remote end = %v, want 11:30", r.End)
	}

	rem.FailAll(errors.New("rejected"))
	_ = c.Commit(context.Background(), Change{Kind: model.ActionMove, EventID: "t1@r1", SourceItemID: "t1", FromResource: "r1",
		Next: model.State{Start: at(13, 0), End: at(15, 30), ResourceID: "r1"}})
	clock.Advance(DefaultDebounce)
	select {
	case ev := <-settled:
		if ev.Type != eventbus.TypeNoticeError {
			t.Fatalf("event = %s, want notice.error", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("failure never reported")
	}
	if r, _, _ := store.Get(context.Background(), "t1"); !r.Start.Equal(at(9, 0)) || !r.End.Equal(at(11, 30)) {
		t.Fatalf("cache after rejected write = %v..%v, want 09:00..11:30", r.Start, r.End)
	}
}

// storedThenFailed stores the first created item and still answers 502.
type storedThenFailed struct {
	*remote.Memory
	mu      sync.Mutex
	creates int
}

func (r *storedThenFailed) Create(ctx context.Context, rec model.Record) (string, error) {
	r.mu.Lock()
	r.creates++
	n := r.creates
	r.mu.Unlock()
	id, err := r.Memory.Create(ctx, rec)
	if err != nil || n > 1 {
		return id, err
	}
	return "", &remote.StatusError{Op: remote.OpCreate, Status: 502}
}

func TestEngineDispatcherSendsCreateOnce(t *testing.T) {
	t.Parallel()

	eng := engine.New(engine.Config{Workers: 1, RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}, logx.Nop(), nil)
	eng.Start(context.Background())
	defer eng.Stop(context.Background())

	rem := &storedThenFailed{Memory: remote.NewMemory()}
	store := storage.NewMemory()
	bus := eventbus.New()
	settled, unsub := bus.Subscribe(4, eventbus.TypeChangeConfirmed, eventbus.TypeNoticeError)
	defer unsub()

	clock := NewManualClock(at(8, 0))
	c := New(store, EngineDispatcher{Engine: eng, Remote: rem}, Options{Clock: clock, Bus: bus, Log: logx.Nop()})
	err := c.Commit(context.Background(), Change{Kind: model.ActionCreate, EventID: "tmp-1@r1", SourceItemID: "tmp-1",
		Next: model.State{Start: at(9, 0), End: at(10, 0), ResourceID: "r1"}, Template: &model.Record{Title: "new"}})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	clock.Advance(DefaultDebounce)

	select {
	case ev := <-settled:
		if ev.Type != eventbus.TypeNoticeError {
			t.Fatalf("event = %s, want notice.error", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("create never completed")
	}
	rem.mu.Lock()
	creates := rem.creates
	rem.mu.Unlock()
	if creates != 1 {
		t.Fatalf("remote Create calls = %d, want 1", creates)
	}
	if _, ok, _ := store.Get(context.Background(), "tmp-1"); ok {
		t.Fatalf("failed create still cached")
	}
}

func TestManualClockOrder(t *testing.T) {
	t.Parallel()

	c := NewManualClock(base)
	var fired []int
	c.AfterFunc(3*time.Second, func() { fired = append(fired, 3) })
	c.AfterFunc(time.Second, func() {
		fired = append(fired, 1)
		c.AfterFunc(time.Second, func() { fired = append(fired, 2) })
	})
	stopped := c.AfterFunc(2*time.Second, func() { fired = append(fired, 99) })
	if !stopped.Stop() {
		t.Fatalf("Stop() = false on armed timer")
	}
	c.Advance(3 * time.Second)
	if len(fired) != 3 || fired[0] != 1 || fired[1] != 2 || fired[2] != 3 {
		t.Fatalf("fired = %v, want [1 2 3]", fired)
	}
	if c.Armed() != 0 {
		t.Fatalf("Armed() = %d, want 0", c.Armed())
	}
	if !c.Now().Equal(base.Add(3 * time.Second)) {
		t.Fatalf("Now() = %v", c.Now())
	}
}
