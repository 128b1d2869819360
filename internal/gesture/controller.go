// Package gesture turns pointer interaction into time changes.
//
// A Session lives from pointer-down to pointer-up. Updates only move the
// transient override rectangle of the dragged event; End converts the
// total pointer delta into snapped, clamped instants and hands back the
// previous and next state for the caller to commit.
package gesture

import (
	"fmt"
	"sync"
	"time"

	"planboard/internal/layout"
	"planboard/internal/model"
	"planboard/internal/timescale"
	logx "planboard/pkg/logx"
)

type Kind string

const (
	Move        Kind = "move"
	ResizeStart Kind = "resize-start"
	ResizeEnd   Kind = "resize-end"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case Move, ResizeStart, ResizeEnd:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// ActionKind maps a gesture to the history kind it produces.
func (k Kind) ActionKind() model.ActionKind {
	if k == Move {
		return model.ActionMove
	}
	return model.ActionResize
}

type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Controller starts sessions against the current scale and keeps at most one
// active session per event.
type Controller struct {
	mu        sync.Mutex
	scale     timescale.Scale
	snap      Snapper
	minWidth  float64
	overrides *Overrides
	active    map[string]*Session
	now       func() time.Time
	log       logx.Logger
}

// DefaultIdle is how long a session may go without pointer input before
// Expire abandons it.
const DefaultIdle = 30 * time.Second

func NewController(scale timescale.Scale, snap Snapper, overrides *Overrides, log logx.Logger) *Controller {
	if overrides == nil {
		overrides = NewOverrides()
	}
	return &Controller{
		scale:     scale,
		snap:      snap,
		minWidth:  layout.DefaultMinWidth,
		overrides: overrides,
		active:    map[string]*Session{},
		now:       time.Now,
		log:       log,
	}
}

// SetClock affects sessions started afterwards only.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	if now != nil {
		c.now = now
	}
	c.mu.Unlock()
}

// SetScale affects sessions started afterwards only.
func (c *Controller) SetScale(s timescale.Scale) {
	c.mu.Lock()
	c.scale = s
	c.mu.Unlock()
}

func (c *Controller) SetMinWidth(w float64) {
	c.mu.Lock()
	if w > 0 {
		c.minWidth = w
	}
	c.mu.Unlock()
}

func (c *Controller) Snapper() Snapper      { return c.snap }
func (c *Controller) Overrides() *Overrides { return c.overrides }

// Session returns the active session for an event.
func (c *Controller) Session(eventID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.active[eventID]
	return s, ok
}

// Begin captures the event's pre-gesture state and the pointer origin. It
// does not touch any data.
func (c *Controller) Begin(kind Kind, ev model.ScheduledEvent, pointerX float64, rect layout.Position) (*Session, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scale.IsZero() {
		return nil, ErrNoScale
	}
	if _, busy := c.active[ev.ID]; busy {
		return nil, fmt.Errorf("%w: %s", ErrGestureBusy, ev.ID)
	}
	s := &Session{
		ctl:      c,
		kind:     kind,
		event:    ev,
		origin:   pointerX,
		last:     pointerX,
		rect:     rect,
		scale:    c.scale,
		snap:     c.snap,
		minWidth: c.minWidth,
		state:    Active,
		target:   ev.ResourceID,
		now:      c.now,
		touched:  c.now(),
	}
	c.active[ev.ID] = s
	c.log.Debug("gesture started",
		logx.Event(ev.ID),
		logx.String("kind", string(kind)),
		logx.Float64("origin_x", pointerX),
	)
	return s, nil
}

// Expire abandons sessions without pointer input for idle or longer, as when
// the client went away between start and end. Their overrides are cleared
// and nothing is committed. It returns the affected event ids.
func (c *Controller) Expire(idle time.Duration) []string {
	if idle <= 0 {
		idle = DefaultIdle
	}
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.active))
	for _, s := range c.active {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	var ids []string
	for _, s := range sessions {
		s.mu.Lock()
		stale := s.state == Active && s.now().Sub(s.touched) >= idle
		if stale {
			s.state = Idle
		}
		s.mu.Unlock()
		if !stale {
			continue
		}
		c.release(s)
		ids = append(ids, s.event.ID)
		c.log.Warn("gesture abandoned", logx.Event(s.event.ID), logx.String("kind", string(s.kind)))
	}
	return ids
}

func (c *Controller) release(s *Session) {
	c.mu.Lock()
	if c.active[s.event.ID] == s {
		delete(c.active, s.event.ID)
	}
	c.mu.Unlock()
	c.overrides.Clear(s.event.ID)
}

// Session is one pointer interaction.
type Session struct {
	ctl *Controller

	mu       sync.Mutex
	kind     Kind
	event    model.ScheduledEvent
	origin   float64
	last     float64
	rect     layout.Position
	scale    timescale.Scale
	snap     Snapper
	minWidth float64
	state    State
	now      func() time.Time
	touched  time.Time

	target     string
	targetLane int
	targetY    float64
	retargeted bool
}

func (s *Session) Kind() Kind                  { return s.kind }
func (s *Session) Event() model.ScheduledEvent { return s.event }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Retarget moves a Move gesture onto another lane. Resize gestures keep
// their lane.
func (s *Session) Retarget(resourceID string, lane int, y float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Active {
		return ErrSessionEnded
	}
	s.touched = s.now()
	if s.kind != Move {
		return nil
	}
	s.target = resourceID
	s.targetLane = lane
	s.targetY = y
	s.retargeted = resourceID != s.event.ResourceID
	return nil
}

// Update repositions the transient rectangle for the pointer at pointerX
// and returns it.
func (s *Session) Update(pointerX float64) (layout.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Active {
		return layout.Position{}, ErrSessionEnded
	}
	s.last = pointerX
	s.touched = s.now()
	r := s.visual(pointerX - s.origin)
	s.ctl.overrides.Set(s.event.ID, r)
	return r, nil
}

func (s *Session) visual(dx float64) layout.Position {
	r := s.rect
	switch s.kind {
	case Move:
		r.X += dx
		if s.retargeted {
			r.Lane = s.targetLane
			r.Y = s.targetY
		}
	case ResizeStart:
		right := r.Right()
		r.X += dx
		if right-r.X < s.minWidth {
			r.X = right - s.minWidth
		}
		r.Width = right - r.X
	case ResizeEnd:
		r.Width += dx
		if r.Width < s.minWidth {
			r.Width = s.minWidth
		}
	}
	return r
}

// Result is the committed outcome of a gesture.
type Result struct {
	Kind         model.ActionKind `json:"kind"`
	EventID      string           `json:"event_id"`
	SourceItemID string           `json:"source_item_id"`
	Prev         model.State      `json:"prev"`
	Next         model.State      `json:"next"`
	Delta        time.Duration    `json:"delta"`
	Clamped      bool             `json:"clamped,omitempty"`
}

// Changed reports whether the gesture altered the event.
func (r Result) Changed() bool { return !r.Prev.Equal(r.Next) }

// End finishes the gesture at pointerX, clears the override and returns the
// resulting state. A release anywhere is an End; invalid results are
// clamped, never rejected.
func (s *Session) End(pointerX float64) (Result, error) {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return Result{}, ErrSessionEnded
	}
	s.state = Idle
	s.last = pointerX
	res := s.resolve(s.scale.Delta(pointerX - s.origin))
	s.mu.Unlock()

	s.ctl.release(s)
	if res.Clamped {
		s.ctl.log.Debug("gesture clamped to minimum duration",
			logx.Event(res.EventID),
			logx.String("kind", string(s.kind)),
			logx.Duration("delta", res.Delta),
		)
	}
	return res, nil
}

// Cancel abandons the gesture without a result. The override is cleared.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.state = Idle
	s.mu.Unlock()
	s.ctl.release(s)
	return nil
}

func (s *Session) resolve(delta time.Duration) Result {
	prev := s.event.State()
	next := prev
	iv := s.snap.interval()
	clamped := false

	switch s.kind {
	case Move:
		dur := prev.End.Sub(prev.Start)
		next.Start = s.snap.Snap(prev.Start.Add(delta))
		next.End = next.Start.Add(dur)
		next.ResourceID = s.target
	case ResizeStart:
		next.Start = s.snap.Snap(prev.Start.Add(delta))
		if !next.Start.Before(prev.End) {
			next.Start = prev.End.Add(-iv)
			clamped = true
		}
	case ResizeEnd:
		next.End = s.snap.Snap(prev.End.Add(delta))
		if !next.End.After(prev.Start) {
			next.End = prev.Start.Add(iv)
			clamped = true
		}
	}

	return Result{
		Kind:         s.kind.ActionKind(),
		EventID:      s.event.ID,
		SourceItemID: s.event.SourceItemID,
		Prev:         prev,
		Next:         next,
		Delta:        delta,
		Clamped:      clamped,
	}
}

// Compute is the pure gesture math: the outcome of applying delta to ev
// with kind. It is what End uses after converting pixels to a duration.
func Compute(kind Kind, ev model.ScheduledEvent, delta time.Duration, snap Snapper) Result {
	s := &Session{kind: kind, event: ev, snap: snap, target: ev.ResourceID}
	return s.resolve(delta)
}
