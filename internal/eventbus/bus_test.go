package eventbus

import "testing"

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()

	b := New()
	notices, unsubN := b.Subscribe(4, TypeNoticeError)
	defer unsubN()
	all, unsubA := b.Subscribe(4)
	defer unsubA()

	b.Publish(Event{Type: TypeChangeCommitted, Data: Change{EventID: "a@r1"}})
	b.Publish(Event{Type: TypeNoticeError, Data: Notice{Message: "save failed"}})

	if got := len(notices); got != 1 {
		t.Fatalf("len(notices) = %d, want 1", got)
	}
	ev := <-notices
	n, ok := ev.Data.(Notice)
	if !ok || n.Message != "save failed" {
		t.Fatalf("notice = %#v, want save failed", ev.Data)
	}
	if ev.Time.IsZero() {
		t.Fatalf("event time not stamped")
	}
	if got := len(all); got != 2 {
		t.Fatalf("len(all) = %d, want 2", got)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: TypeChangeConfirmed})
	}
	if got := b.Dropped(); got != 4 {
		t.Fatalf("Dropped() = %d, want 4", got)
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel open after unsubscribe")
	}
	b.Publish(Event{Type: TypeNoticeError})
}
