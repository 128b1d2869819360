package web

import (
	"context"
	"sync"
	"time"

	"planboard/internal/eventbus"
	"planboard/internal/task/engine"
	logx "planboard/pkg/logx"
)

const (
	DefaultNoticeCapacity = 100
	DefaultNoticeDedup    = 2 * time.Second
)

// Notice is one user-facing message kept for the notices endpoint.
type Notice struct {
	Seq          uint64    `json:"seq"`
	At           time.Time `json:"at"`
	Type         string    `json:"type"`
	Message      string    `json:"message"`
	EventID      string    `json:"event_id,omitempty"`
	SourceItemID string    `json:"source_item_id,omitempty"`
	Err          string    `json:"err,omitempty"`
}

// Notices keeps the most recent failure notices published on the bus.
// Identical messages for the same item within the dedup window collapse.
type Notices struct {
	mu    sync.Mutex
	items []Notice
	seq   uint64
	cap   int
	dedup time.Duration
	seen  map[string]time.Time
	log   logx.Logger
}

func NewNotices(capacity int, dedup time.Duration, log logx.Logger) *Notices {
	if capacity <= 0 {
		capacity = DefaultNoticeCapacity
	}
	if dedup < 0 {
		dedup = 0
	}
	return &Notices{cap: capacity, dedup: dedup, seen: map[string]time.Time{}, log: log}
}

// Run drains a bus subscription until ctx is done.
func (n *Notices) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(64, eventbus.TypeNoticeError, eventbus.TypeTaskDropped)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			n.Add(toNotice(e))
		}
	}
}

func toNotice(e eventbus.Event) Notice {
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	out := Notice{At: at, Type: e.Type}
	switch d := e.Data.(type) {
	case eventbus.Notice:
		out.Message, out.EventID, out.SourceItemID, out.Err = d.Message, d.EventID, d.SourceItemID, d.Err
	case engine.TaskEvent:
		out.Message = "A background write was dropped: " + d.Name
		out.Err = d.Error
	default:
		out.Message = e.Type
	}
	return out
}

// Add records a notice unless an identical one was added within the dedup
// window. It reports whether the notice was kept.
func (n *Notices) Add(v Notice) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := v.Type + "|" + v.SourceItemID + "|" + v.Message
	if n.dedup > 0 {
		if until, ok := n.seen[key]; ok && v.At.Before(until) {
			return false
		}
		n.seen[key] = v.At.Add(n.dedup)
		if len(n.seen) > 4*n.cap {
			for k, until := range n.seen {
				if !v.At.Before(until) {
					delete(n.seen, k)
				}
			}
		}
	}
	n.seq++
	v.Seq = n.seq
	n.items = append(n.items, v)
	if len(n.items) > n.cap {
		n.items = n.items[len(n.items)-n.cap:]
	}
	n.log.Debug("notice recorded", logx.String("type", v.Type), logx.Item(v.SourceItemID))
	return true
}

// Since lists notices with Seq > after, oldest first.
func (n *Notices) Since(after uint64) []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notice, 0, len(n.items))
	for _, v := range n.items {
		if v.Seq > after {
			out = append(out, v)
		}
	}
	return out
}
