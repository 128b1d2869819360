// Package eventbus is the in-process observer bus that carries coordinator
// outcomes (commits, confirmations, failure notices) to whoever renders them.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; a slow subscriber drops events.
//   - A subscription lives until its unsubscribe func is called.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Topics published by the engine.
const (
	TypeChangeCommitted = "change.committed"
	TypeChangeConfirmed = "change.confirmed"
	TypeNoticeError     = "notice.error"
	TypeSnapshotRefresh = "snapshot.refreshed"

	// Remote write executor lifecycle.
	TypeTaskFailed  = "task.failed"
	TypeTaskDropped = "task.dropped"
	TypeTaskSkipped = "task.skipped"
)

// Event is a small signal. Data is one of the payload types below or nil.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Change describes a committed or confirmed write.
type Change struct {
	EventID      string `json:"event_id"`
	SourceItemID string `json:"source_item_id"`
	Kind         string `json:"kind"`
}

// Notice is a user-facing message.
type Notice struct {
	EventID      string `json:"event_id,omitempty"`
	SourceItemID string `json:"source_item_id,omitempty"`
	Message      string `json:"message"`
	Err          string `json:"err,omitempty"`
}

type Bus interface {
	Publish(e Event)
	// Subscribe receives every event whose Type is in types, or all events
	// when types is empty.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries lost to full subscriber buffers.
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch     chan Event
	filter map[string]bool
}

func (s *sub) wants(t string) bool { return len(s.filter) == 0 || s.filter[t] }

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock; unsubscribe closes under the write
	// lock, so a send never races a close.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.filter = make(map[string]bool, len(types))
		for _, t := range types {
			s.filter[t] = true
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
	return s.ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
