package optimistic

import (
	"errors"
	"time"

	"planboard/internal/model"
)

var (
	ErrClosed      = errors.New("optimistic: coordinator closed")
	ErrUnknownItem = errors.New("optimistic: item not in cache")
)

const (
	DefaultDebounce = 300 * time.Millisecond
	DefaultGrace    = 9 * time.Second

	maxFailures = 50
)

// Change is one committed interactive edit.
type Change struct {
	// ActionID is the history action this change belongs to; it is
	// discarded if the write carrying it fails. Empty for untracked edits.
	ActionID     string
	Kind         model.ActionKind
	EventID      string
	SourceItemID string
	// FromResource is the event's resource before the change; a different
	// Next.ResourceID replaces that assignment.
	FromResource string
	Next         model.State
	// Template supplies title and display fields when the item does not
	// exist in the cache yet (create, or undo of a delete).
	Template *model.Record
	// OnRollback runs if the write carrying this change fails, after the
	// cache was reverted and the dropped actions discarded. It is called
	// without internal locks held.
	OnRollback func()
}

// Pending is the engine's expectation for an item whose write has not been
// confirmed yet. While it is live, refreshed data that disagrees with
// Record is masked.
type Pending struct {
	EventID      string           `json:"event_id"`
	SourceItemID string           `json:"source_item_id"`
	Kind         model.ActionKind `json:"kind"`
	Expected     model.State      `json:"expected"`
	Record       model.Record     `json:"record"`
	Absent       bool             `json:"absent,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	// ExpiresAt is zero while the write is queued or in flight.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Gen       uint64    `json:"gen"`
}

func (p Pending) expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Failure is a rolled back write, kept for diagnostics.
type Failure struct {
	SourceItemID string           `json:"source_item_id"`
	EventID      string           `json:"event_id"`
	Kind         model.ActionKind `json:"kind"`
	Actions      int              `json:"actions"`
	Err          string           `json:"err"`
	At           time.Time        `json:"at"`
}

// WriteKind is what a flushed slot asks the remote to do.
type WriteKind int

const (
	WritePatch WriteKind = iota
	WriteCreate
	WriteDelete
)

func (k WriteKind) String() string {
	switch k {
	case WriteCreate:
		return "create"
	case WriteDelete:
		return "delete"
	default:
		return "patch"
	}
}

// Write is the coalesced remote operation for one item.
type Write struct {
	Kind         WriteKind
	SourceItemID string
	Record       model.Record
}

// Dispatcher executes writes asynchronously. done must be called exactly
// once for every write Dispatch accepted (nil error); newID carries the
// remote id of a created item.
type Dispatcher interface {
	Dispatch(w Write, done func(newID string, err error)) error
}

// History is the part of the undo manager the coordinator keeps consistent.
type History interface {
	Discard(ids ...string) int
	Rekey(oldSourceID, newSourceID string) int
}
