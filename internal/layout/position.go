// Package layout turns a snapshot of events into pixel rectangles: one lane
// per resource, with overlapping events of a lane stacked side by side.
//
// Everything here is pure and synchronous; callers recompute on every
// input change.
package layout

import (
	"planboard/internal/model"
	"planboard/internal/timescale"
)

// Position is the rectangle of one event.
type Position struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Lane       int     `json:"lane"`
	StackIndex int     `json:"stack_index"`
	GroupSize  int     `json:"group_size"`
}

// Right is X+Width.
func (p Position) Right() float64 { return p.X + p.Width }

type Options struct {
	RowHeight   float64
	LaneMargin  float64
	MinWidth    float64
	StackMargin float64
}

const (
	DefaultRowHeight   = 48
	DefaultLaneMargin  = 4
	DefaultMinWidth    = 4
	DefaultStackMargin = 2
)

func DefaultOptions() Options {
	return Options{
		RowHeight:   DefaultRowHeight,
		LaneMargin:  DefaultLaneMargin,
		MinWidth:    DefaultMinWidth,
		StackMargin: DefaultStackMargin,
	}
}

func (o Options) withDefaults() Options {
	if o.RowHeight <= 0 {
		o.RowHeight = DefaultRowHeight
	}
	if o.MinWidth <= 0 {
		o.MinWidth = DefaultMinWidth
	}
	if o.LaneMargin < 0 {
		o.LaneMargin = 0
	}
	if o.StackMargin < 0 {
		o.StackMargin = 0
	}
	return o
}

// Orphan is an event whose resource is not in the lane list.
type Orphan struct {
	EventID      string `json:"event_id"`
	SourceItemID string `json:"source_item_id"`
	ResourceID   string `json:"resource_id"`
}

// Place computes raw (pre-collision) rectangles. Events referencing unknown
// resources are left out of the map and returned as orphans.
func Place(events []model.ScheduledEvent, resources []model.Resource, scale timescale.Scale, opts Options) (map[string]Position, []Orphan) {
	opts = opts.withDefaults()

	lanes := make(map[string]int, len(resources))
	for i, r := range resources {
		if _, dup := lanes[r.ID]; !dup {
			lanes[r.ID] = i
		}
	}

	out := make(map[string]Position, len(events))
	var orphans []Orphan
	for _, ev := range events {
		lane, ok := lanes[ev.ResourceID]
		if !ok {
			orphans = append(orphans, Orphan{EventID: ev.ID, SourceItemID: ev.SourceItemID, ResourceID: ev.ResourceID})
			continue
		}
		out[ev.ID] = Rect(ev, lane, scale, opts)
	}
	return out, orphans
}

// Rect is the raw rectangle of a single event on a known lane.
func Rect(ev model.ScheduledEvent, lane int, scale timescale.Scale, opts Options) Position {
	opts = opts.withDefaults()
	x := scale.ToPixel(ev.Start)
	w := scale.ToPixel(ev.End) - x
	if w < opts.MinWidth {
		w = opts.MinWidth
	}
	return Position{
		X:         x,
		Y:         float64(lane)*opts.RowHeight + opts.LaneMargin,
		Width:     w,
		Height:    opts.RowHeight - 2*opts.LaneMargin,
		Lane:      lane,
		GroupSize: 1,
	}
}

// Result is one full layout pass.
type Result struct {
	Positions map[string]Position `json:"positions"`
	Groups    []Group             `json:"groups"`
	Orphans   []Orphan            `json:"orphans,omitempty"`
}

// Compute runs placement followed by collision resolution.
func Compute(events []model.ScheduledEvent, resources []model.Resource, scale timescale.Scale, opts Options) Result {
	opts = opts.withDefaults()
	pos, orphans := Place(events, resources, scale, opts)
	groups := Resolve(events, pos, opts.StackMargin)
	return Result{Positions: pos, Groups: groups, Orphans: orphans}
}
