// Package model holds the value types shared by the timeline engine.
//
// Resources and ScheduledEvents are produced by the source transformation
// (internal/source) and treated as an immutable snapshot per layout pass.
// Records are what the local cache and the remote store persist.
package model

import (
	"slices"
	"strings"
	"time"
)

// Resource is one lane of the timeline (a person, a team member, a machine).
type Resource struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	GroupKey string `json:"group_key,omitempty" yaml:"group_key,omitempty"`
	Color    string `json:"color,omitempty" yaml:"color,omitempty"`
}

// Meta is display-only data. Layout never reads it.
type Meta struct {
	Title     string `json:"title,omitempty"`
	Status    string `json:"status,omitempty"`
	Priority  string `json:"priority,omitempty"`
	Category  string `json:"category,omitempty"`
	Location  string `json:"location,omitempty"`
	Recurring bool   `json:"recurring,omitempty"`
}

// ScheduledEvent is one resource assignment of a source item.
// Several events may share a SourceItemID.
type ScheduledEvent struct {
	ID           string    `json:"id"`
	ResourceID   string    `json:"resource_id"`
	SourceItemID string    `json:"source_item_id"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Color        string    `json:"color,omitempty"`
	Meta         Meta      `json:"meta"`
}

// State returns the layout-relevant part of the event.
func (e ScheduledEvent) State() State {
	return State{Start: e.Start, End: e.End, ResourceID: e.ResourceID}
}

// Duration is End-Start; it may be zero or negative for malformed input.
func (e ScheduledEvent) Duration() time.Duration { return e.End.Sub(e.Start) }

// State is the snapshot a history action stores and a commit writes.
//
// Absent marks "the item does not exist" and is used by create (Prev) and
// delete (Next).
type State struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	ResourceID string    `json:"resource_id,omitempty"`
	Absent     bool      `json:"absent,omitempty"`
}

// Equal compares instants with time.Equal so monotonic/location differences
// do not matter.
func (s State) Equal(o State) bool {
	if s.Absent || o.Absent {
		return s.Absent == o.Absent
	}
	return s.Start.Equal(o.Start) && s.End.Equal(o.End) && s.ResourceID == o.ResourceID
}

// Record is a source item as held by the local cache and the remote store.
type Record struct {
	ID          string    `json:"id" yaml:"id"`
	Title       string    `json:"title,omitempty" yaml:"title,omitempty"`
	Start       time.Time `json:"start" yaml:"start"`
	End         time.Time `json:"end" yaml:"end"`
	ResourceIDs []string  `json:"resource_ids" yaml:"resource_ids"`
	Color       string    `json:"color,omitempty" yaml:"color,omitempty"`
	Status      string    `json:"status,omitempty" yaml:"status,omitempty"`
	Priority    string    `json:"priority,omitempty" yaml:"priority,omitempty"`
	Category    string    `json:"category,omitempty" yaml:"category,omitempty"`
	Location    string    `json:"location,omitempty" yaml:"location,omitempty"`
	Recurring   bool      `json:"recurring,omitempty" yaml:"recurring,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Apply returns a copy of r with the instants (and, when set, the resource)
// of s written over it.
//
// A resource change replaces the assignment identified by fromResource; other
// assignments of the item are kept.
func (r Record) Apply(s State, fromResource string) Record {
	out := r
	out.ResourceIDs = append([]string(nil), r.ResourceIDs...)
	out.Start = s.Start
	out.End = s.End
	if s.ResourceID == "" || s.ResourceID == fromResource {
		return out
	}
	if slices.Contains(out.ResourceIDs, s.ResourceID) {
		// Already on the target lane: the moved assignment merges into it.
		out.ResourceIDs = slices.DeleteFunc(out.ResourceIDs, func(id string) bool { return id == fromResource })
		return out
	}
	replaced := false
	for i, id := range out.ResourceIDs {
		if id == fromResource {
			out.ResourceIDs[i] = s.ResourceID
			replaced = true
			break
		}
	}
	if !replaced {
		out.ResourceIDs = append(out.ResourceIDs, s.ResourceID)
	}
	return out
}

// Snapshot is the read-only input of one render pass.
type Snapshot struct {
	Resources []Resource       `json:"resources"`
	Events    []ScheduledEvent `json:"events"`
	BuiltAt   time.Time        `json:"built_at"`
}

// EventByID returns the event with the given id.
func (s Snapshot) EventByID(id string) (ScheduledEvent, bool) {
	for _, ev := range s.Events {
		if ev.ID == id {
			return ev, true
		}
	}
	return ScheduledEvent{}, false
}

// LaneOf returns the lane index of the resource, or -1.
func (s Snapshot) LaneOf(resourceID string) int {
	for i, r := range s.Resources {
		if r.ID == resourceID {
			return i
		}
	}
	return -1
}

const eventIDSep = "@"

// EventID derives the stable event id of one assignment of a source item.
func EventID(sourceItemID, resourceID string) string {
	return sourceItemID + eventIDSep + resourceID
}

// SplitEventID is the inverse of EventID.
func SplitEventID(id string) (sourceItemID, resourceID string, ok bool) {
	i := strings.LastIndex(id, eventIDSep)
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

// ActionKind classifies a committed change.
type ActionKind string

const (
	ActionMove   ActionKind = "move"
	ActionResize ActionKind = "resize"
	ActionCreate ActionKind = "create"
	ActionDelete ActionKind = "delete"
	ActionUpdate ActionKind = "update"
)
