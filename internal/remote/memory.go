package remote

import (
	"context"
	"sync"
	"time"

	"planboard/internal/model"
	"planboard/internal/task/engine"

	"github.com/google/uuid"
)

// Op names used for failure injection and call counters.
const (
	OpList   = "list"
	OpPatch  = "patch"
	OpCreate = "create"
	OpDelete = "delete"
)

// FailFunc decides whether a call fails. Returning nil lets it through.
type FailFunc func(op, id string) error

// Memory is an in-process remote used by demos and tests.
type Memory struct {
	mu    sync.Mutex
	recs  map[string]model.Record
	fail  FailFunc
	delay time.Duration
	calls map[string]int
	now   func() time.Time
}

func NewMemory(seed ...model.Record) *Memory {
	m := &Memory{recs: map[string]model.Record{}, calls: map[string]int{}, now: time.Now}
	for _, r := range seed {
		m.recs[r.ID] = r
	}
	return m
}

// SetFailure installs (or with nil, removes) a failure hook.
func (m *Memory) SetFailure(f FailFunc) {
	m.mu.Lock()
	m.fail = f
	m.mu.Unlock()
}

// FailAll makes every write fail permanently with err.
func (m *Memory) FailAll(err error) {
	m.SetFailure(func(op, _ string) error {
		if op == OpList {
			return nil
		}
		return engine.NoRetry(err)
	})
}

// SetDelay makes every call sleep (honoring ctx) before answering.
func (m *Memory) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Record returns the stored record.
func (m *Memory) Record(id string) (model.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[id]
	return r, ok
}

func (m *Memory) enter(ctx context.Context, op, id string) error {
	m.mu.Lock()
	m.calls[op]++
	fail, delay := m.fail, m.delay
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	if fail != nil {
		return fail(op, id)
	}
	return nil
}

func (m *Memory) List(ctx context.Context) ([]model.Record, error) {
	if err := m.enter(ctx, OpList, ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Record, 0, len(m.recs))
	for _, r := range m.recs {
		r.ResourceIDs = append([]string(nil), r.ResourceIDs...)
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) Patch(ctx context.Context, id string, p Patch) error {
	if err := m.enter(ctx, OpPatch, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[id]
	if !ok {
		return engine.NoRetry(ErrNotFound)
	}
	r.Start, r.End = p.Start, p.End
	if len(p.ResourceIDs) > 0 {
		r.ResourceIDs = append([]string(nil), p.ResourceIDs...)
	}
	r.UpdatedAt = m.now()
	m.recs[id] = r
	return nil
}

func (m *Memory) Create(ctx context.Context, rec model.Record) (string, error) {
	if err := m.enter(ctx, OpCreate, rec.ID); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = uuid.NewString()
	rec.ResourceIDs = append([]string(nil), rec.ResourceIDs...)
	rec.UpdatedAt = m.now()
	m.recs[rec.ID] = rec
	return rec.ID, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := m.enter(ctx, OpDelete, id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.recs, id)
	m.mu.Unlock()
	return nil
}
