package gesture

import (
	"sync"

	"planboard/internal/layout"
)

// Overrides holds the transient rectangles of events being dragged. The
// renderer draws an override instead of the laid-out position; entries
// never reach the data model.
type Overrides struct {
	mu sync.RWMutex
	m  map[string]layout.Position
}

func NewOverrides() *Overrides {
	return &Overrides{m: map[string]layout.Position{}}
}

func (o *Overrides) Set(eventID string, p layout.Position) {
	o.mu.Lock()
	o.m[eventID] = p
	o.mu.Unlock()
}

func (o *Overrides) Clear(eventID string) {
	o.mu.Lock()
	delete(o.m, eventID)
	o.mu.Unlock()
}

func (o *Overrides) Get(eventID string) (layout.Position, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.m[eventID]
	return p, ok
}

func (o *Overrides) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.m)
}

// Apply overlays the overrides onto a copy of positions.
func (o *Overrides) Apply(positions map[string]layout.Position) map[string]layout.Position {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]layout.Position, len(positions))
	for id, p := range positions {
		out[id] = p
	}
	for id, p := range o.m {
		if _, ok := out[id]; ok {
			out[id] = p
		}
	}
	return out
}
