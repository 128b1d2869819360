// Package history is a bounded linear undo/redo list with a cursor.
//
// The manager only stores actions; replaying one means committing its Prev
// (undo) or Next (redo) state through the same path as a live change.
// Calls with nothing to undo or redo are silent no-ops (ok == false).
package history

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"planboard/internal/model"

	"github.com/google/uuid"
)

const DefaultCapacity = 50

// Action is one committed interactive change.
type Action struct {
	ID           string           `json:"id"`
	Kind         model.ActionKind `json:"kind"`
	EventID      string           `json:"event_id"`
	SourceItemID string           `json:"source_item_id"`
	Prev         model.State      `json:"prev"`
	Next         model.State      `json:"next"`
	At           time.Time        `json:"at"`
}

// Describe is a short label for menus ("Undo: move t1").
func (a Action) Describe() string {
	return fmt.Sprintf("%s %s", a.Kind, a.SourceItemID)
}

// Manager is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	actions  []Action
	cursor   int // index of the last applied action; -1 when none
	capacity int
}

// New returns a manager bounded to capacity actions (DefaultCapacity when
// capacity <= 0).
func New(capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{cursor: -1, capacity: capacity}
}

// Push discards the redo tail, appends a and moves the cursor onto it. The
// oldest action is evicted when over capacity. The stored action (with ID
// and At filled in) is returned.
func (m *Manager) Push(a Action) Action {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.At.IsZero() {
		a.At = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions[:m.cursor+1], a)
	m.cursor++
	if over := len(m.actions) - m.capacity; over > 0 {
		m.actions = append(m.actions[:0:0], m.actions[over:]...)
		m.cursor -= over
	}
	return a
}

// Undo returns the action at the cursor and steps back.
func (m *Manager) Undo() (Action, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor < 0 {
		return Action{}, false
	}
	a := m.actions[m.cursor]
	m.cursor--
	return a, true
}

// Redo steps forward and returns the action there.
func (m *Manager) Redo() (Action, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor >= len(m.actions)-1 {
		return Action{}, false
	}
	m.cursor++
	return m.actions[m.cursor], true
}

func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor >= 0
}

func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor < len(m.actions)-1
}

func (m *Manager) UndoCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor + 1
}

func (m *Manager) RedoCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actions) - 1 - m.cursor
}

// UndoDescription describes the action Undo would return, or "".
func (m *Manager) UndoDescription() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor < 0 {
		return ""
	}
	return m.actions[m.cursor].Describe()
}

// RedoDescription describes the action Redo would return, or "".
func (m *Manager) RedoDescription() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor >= len(m.actions)-1 {
		return ""
	}
	return m.actions[m.cursor+1].Describe()
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actions)
}

func (m *Manager) Capacity() int { return m.capacity }

// Actions returns a copy of the list, oldest first, and the cursor.
func (m *Manager) Actions() ([]Action, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Action(nil), m.actions...), m.cursor
}

// Discard removes actions by id. Used when the write an action produced
// was rolled back, so the list keeps matching the cached state. Returns how
// many were removed.
func (m *Manager) Discard(ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.actions[:0]
	cursor := m.cursor
	for i, a := range m.actions {
		if drop[a.ID] {
			if i <= m.cursor {
				cursor--
			}
			continue
		}
		kept = append(kept, a)
	}
	removed := len(m.actions) - len(kept)
	for i := len(kept); i < len(m.actions); i++ {
		m.actions[i] = Action{}
	}
	m.actions = kept
	m.cursor = cursor
	return removed
}

// RevertUndo puts the cursor back onto the action after the write behind
// its undo was rolled back, so the action counts as applied again. If the
// cursor moved since, the list can no longer place the action and it is
// dropped. Reports whether the cursor was restored.
func (m *Manager) RevertUndo(id string) bool {
	return m.revert(id, 1)
}

// RevertRedo steps the cursor back before the action after the write behind
// its redo was rolled back.
func (m *Manager) RevertRedo(id string) bool {
	return m.revert(id, 0)
}

// revert expects the cursor at i-step (where Undo or Redo left it) and
// moves it to i-1+step.
func (m *Manager) revert(id string, step int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.actions, func(a Action) bool { return a.ID == id })
	if i < 0 {
		return false
	}
	if m.cursor == i-step {
		m.cursor = i - 1 + step
		return true
	}
	if i <= m.cursor {
		m.cursor--
	}
	m.actions = slices.Delete(m.actions, i, i+1)
	return false
}

// Rekey rewrites references to a source item after it received a permanent
// id (e.g. a remote create replacing a temporary id).
func (m *Manager) Rekey(oldSourceID, newSourceID string) int {
	if oldSourceID == "" || oldSourceID == newSourceID {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range m.actions {
		a := &m.actions[i]
		if a.SourceItemID != oldSourceID {
			continue
		}
		a.SourceItemID = newSourceID
		if src, res, ok := model.SplitEventID(a.EventID); ok && src == oldSourceID {
			a.EventID = model.EventID(newSourceID, res)
		} else if strings.HasPrefix(a.EventID, oldSourceID) {
			a.EventID = newSourceID + strings.TrimPrefix(a.EventID, oldSourceID)
		}
		n++
	}
	return n
}
