package board

import (
	"time"

	"planboard/internal/layout"
	"planboard/internal/model"
	"planboard/internal/timescale"
)

// Frame is everything the renderer needs for one paint.
type Frame struct {
	Preset     timescale.Preset           `json:"preset"`
	RangeStart time.Time                  `json:"range_start"`
	RangeEnd   time.Time                  `json:"range_end"`
	Width      float64                    `json:"width"`
	RowHeight  float64                    `json:"row_height"`
	Ticks      []time.Time                `json:"ticks"`
	MajorTicks []time.Time                `json:"major_ticks"`
	Resources  []model.Resource           `json:"resources"`
	Events     []model.ScheduledEvent     `json:"events"`
	Positions  map[string]layout.Position `json:"positions"`
	Groups     []layout.Group             `json:"groups,omitempty"`
	Orphans    []layout.Orphan            `json:"orphans,omitempty"`
	// Dragging lists events drawn from the override table.
	Dragging []string `json:"dragging,omitempty"`
	// Pending lists source items with an unconfirmed write.
	Pending   []string `json:"pending,omitempty"`
	CanUndo   bool     `json:"can_undo"`
	CanRedo   bool     `json:"can_redo"`
	UndoLabel string   `json:"undo_label,omitempty"`
	RedoLabel string   `json:"redo_label,omitempty"`
}

// Frame returns the cached layout overlaid with the transient rectangles of
// active gestures. Layout is recomputed only when the snapshot, the scale or
// the pending set changed since the last call.
func (b *Board) Frame() Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureLocked()

	ov := b.ctl.Overrides()
	positions := ov.Apply(b.result.Positions)
	var dragging []string
	for _, ev := range b.snap.Events {
		if _, ok := ov.Get(ev.ID); ok {
			dragging = append(dragging, ev.ID)
		}
	}
	var pending []string
	for _, p := range b.coord.PendingAll(b.clock.Now()) {
		pending = append(pending, p.SourceItemID)
	}

	cfg := b.scale.Config()
	return Frame{
		Preset:     cfg.Preset,
		RangeStart: cfg.RangeStart,
		RangeEnd:   cfg.RangeEnd,
		Width:      b.scale.Width(),
		RowHeight:  b.opts.RowHeight,
		Ticks:      b.scale.Ticks(),
		MajorTicks: b.scale.MajorTicks(),
		Resources:  b.snap.Resources,
		Events:     b.snap.Events,
		Positions:  positions,
		Groups:     b.result.Groups,
		Orphans:    b.result.Orphans,
		Dragging:   dragging,
		Pending:    pending,
		CanUndo:    b.hist.CanUndo(),
		CanRedo:    b.hist.CanRedo(),
		UndoLabel:  b.hist.UndoDescription(),
		RedoLabel:  b.hist.RedoDescription(),
	}
}

// Builds counts layout recomputations.
func (b *Board) Builds() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.builds
}
