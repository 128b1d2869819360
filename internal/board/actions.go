package board

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"planboard/internal/gesture"
	"planboard/internal/history"
	"planboard/internal/layout"
	"planboard/internal/model"
	"planboard/internal/optimistic"
	logx "planboard/pkg/logx"
)

// TempIDPrefix marks items created locally that have no remote id yet.
const TempIDPrefix = "tmp-"

// DefaultCreateDuration is the length of an item created on empty space.
const DefaultCreateDuration = time.Hour

func (b *Board) eventLocked(eventID string) (model.ScheduledEvent, error) {
	b.ensureLocked()
	ev, ok := b.snap.EventByID(eventID)
	if !ok {
		return model.ScheduledEvent{}, fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}
	return ev, nil
}

// BeginGesture is the move-start / resize-start callback.
func (b *Board) BeginGesture(kind gesture.Kind, eventID string, pointerX float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, err := b.eventLocked(eventID)
	if err != nil {
		return err
	}
	rect, ok := b.result.Positions[eventID]
	if !ok {
		// Orphans have no rectangle and cannot be dragged.
		return fmt.Errorf("%w: %s has no lane", ErrUnknownEvent, eventID)
	}
	_, err = b.ctl.Begin(kind, ev, pointerX, rect)
	return err
}

// DragTo moves the transient rectangle. It never writes data and never
// triggers layout.
func (b *Board) DragTo(eventID string, pointerX float64) (layout.Position, error) {
	s, ok := b.ctl.Session(eventID)
	if !ok {
		return layout.Position{}, fmt.Errorf("%w: %s", ErrNoGesture, eventID)
	}
	return s.Update(pointerX)
}

// DragToLane retargets a move gesture onto another lane.
func (b *Board) DragToLane(eventID string, lane int) error {
	s, ok := b.ctl.Session(eventID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoGesture, eventID)
	}
	b.mu.Lock()
	if lane < 0 || lane >= len(b.resources) {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownLane, lane)
	}
	res := b.resources[lane].ID
	y := float64(lane)*b.opts.RowHeight + b.opts.LaneMargin
	b.mu.Unlock()
	return s.Retarget(res, lane, y)
}

// EndGesture finishes the gesture at pointerX and commits the result. An
// unchanged result commits nothing.
func (b *Board) EndGesture(ctx context.Context, eventID string, pointerX float64) (gesture.Result, error) {
	s, ok := b.ctl.Session(eventID)
	if !ok {
		return gesture.Result{}, fmt.Errorf("%w: %s", ErrNoGesture, eventID)
	}
	res, err := s.End(pointerX)
	if err != nil {
		return gesture.Result{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirty = true // the override is gone either way
	if !res.Changed() {
		return res, nil
	}
	err = b.commitLocked(ctx, history.Action{
		Kind:         res.Kind,
		EventID:      res.EventID,
		SourceItemID: res.SourceItemID,
		Prev:         res.Prev,
		Next:         res.Next,
	}, nil)
	return res, err
}

// CancelGesture abandons a gesture without committing anything.
func (b *Board) CancelGesture(eventID string) error {
	s, ok := b.ctl.Session(eventID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoGesture, eventID)
	}
	if err := s.Cancel(); err != nil {
		return err
	}
	b.invalidate()
	return nil
}

// ActivateEmptySpace creates a one-hour item starting at the snapped
// instant under x on the given lane and returns its event id.
func (b *Board) ActivateEmptySpace(ctx context.Context, lane int, x float64, title string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if lane < 0 || lane >= len(b.resources) {
		return "", fmt.Errorf("%w: %d", ErrUnknownLane, lane)
	}
	res := b.resources[lane].ID
	start := b.ctl.Snapper().Snap(b.scale.ToInstant(x))
	id := TempIDPrefix + uuid.NewString()
	eventID := model.EventID(id, res)
	if title == "" {
		title = "New item"
	}
	err := b.commitLocked(ctx, history.Action{
		Kind:         model.ActionCreate,
		EventID:      eventID,
		SourceItemID: id,
		Prev:         model.State{Absent: true},
		Next:         model.State{Start: start, End: start.Add(DefaultCreateDuration), ResourceID: res},
	}, &model.Record{Title: title})
	if err != nil {
		return "", err
	}
	return eventID, nil
}

// Delete removes the source item behind an event.
func (b *Board) Delete(ctx context.Context, eventID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, err := b.eventLocked(eventID)
	if err != nil {
		return err
	}
	return b.commitLocked(ctx, history.Action{
		Kind:         model.ActionDelete,
		EventID:      ev.ID,
		SourceItemID: ev.SourceItemID,
		Prev:         ev.State(),
		Next:         model.State{Absent: true},
	}, nil)
}

// Reschedule sets an event's instants (and lane, when resourceID is not
// empty) directly, as a form would.
func (b *Board) Reschedule(ctx context.Context, eventID string, start, end time.Time, resourceID string) error {
	if !end.After(start) {
		return ErrInvalidRange
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, err := b.eventLocked(eventID)
	if err != nil {
		return err
	}
	if resourceID == "" {
		resourceID = ev.ResourceID
	}
	next := model.State{Start: start, End: end, ResourceID: resourceID}
	if next.Equal(ev.State()) {
		return nil
	}
	return b.commitLocked(ctx, history.Action{
		Kind:         model.ActionUpdate,
		EventID:      ev.ID,
		SourceItemID: ev.SourceItemID,
		Prev:         ev.State(),
		Next:         next,
	}, nil)
}

// commitLocked records a new history action and commits its Next state. The
// action is dropped again if the commit is refused outright.
func (b *Board) commitLocked(ctx context.Context, a history.Action, tmpl *model.Record) error {
	a = b.hist.Push(a)
	err := b.coord.Commit(ctx, optimistic.Change{
		ActionID:     a.ID,
		Kind:         a.Kind,
		EventID:      a.EventID,
		SourceItemID: a.SourceItemID,
		FromResource: a.Prev.ResourceID,
		Next:         a.Next,
		Template:     tmpl,
	})
	b.dirty = true
	if err != nil {
		b.hist.Discard(a.ID)
		b.log.Error("commit refused", logx.Event(a.EventID), logx.String("kind", string(a.Kind)), logx.Err(err))
		return err
	}
	return nil
}

// Undo replays the Prev state of the action at the history cursor through
// the same commit path as a live change. ok is false when there is nothing
// to undo. If the replay is refused or its write fails, the cursor steps
// back onto the action.
func (b *Board) Undo(ctx context.Context) (history.Action, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.hist.Undo()
	if !ok {
		return a, false, nil
	}
	return a, true, b.replayLocked(ctx, a, a.Next, a.Prev, b.hist.RevertUndo)
}

// Redo replays the Next state of the action after the cursor.
func (b *Board) Redo(ctx context.Context) (history.Action, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.hist.Redo()
	if !ok {
		return a, false, nil
	}
	return a, true, b.replayLocked(ctx, a, a.Prev, a.Next, b.hist.RevertRedo)
}

func (b *Board) replayLocked(ctx context.Context, a history.Action, from, to model.State, revert func(id string) bool) error {
	eventID := a.EventID
	if !to.Absent && to.ResourceID != "" {
		eventID = model.EventID(a.SourceItemID, to.ResourceID)
	}
	id := a.ID
	err := b.coord.Commit(ctx, optimistic.Change{
		Kind:         a.Kind,
		EventID:      eventID,
		SourceItemID: a.SourceItemID,
		FromResource: from.ResourceID,
		Next:         to,
		OnRollback: func() {
			if !revert(id) {
				b.log.Warn("history entry dropped after failed replay", logx.String("action", id))
			}
		},
	})
	b.dirty = true
	if err != nil {
		revert(id)
		b.log.Error("history replay refused", logx.Event(eventID), logx.String("kind", string(a.Kind)), logx.Err(err))
	}
	return err
}

func (b *Board) CanUndo() bool { return b.hist.CanUndo() }
func (b *Board) CanRedo() bool { return b.hist.CanRedo() }
