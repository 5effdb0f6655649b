package eventbus

import (
	"testing"
	"time"

	"automail/internal/rule"
)

func TestPublishFansOutToSubscribers(t *testing.T) {
	t.Parallel()
	b := New()
	ch1, unsub1 := b.Subscribe(1)
	ch2, unsub2 := b.Subscribe(1)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Trigger: rule.TriggerTaskAssigned, EntityID: "T-1"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.EntityID != "T-1" {
				t.Fatalf("unexpected entity id %q", ev.EntityID)
			}
			if ev.Time.IsZero() {
				t.Fatal("publish must stamp a time")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublishDropsWhenSubscriberIsFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Trigger: rule.TriggerTaskAssigned, EntityID: "first"})
	b.Publish(Event{Trigger: rule.TriggerTaskAssigned, EntityID: "dropped"})

	ev := <-ch
	if ev.EntityID != "first" {
		t.Fatalf("expected the buffered event, got %q", ev.EntityID)
	}
	select {
	case ev := <-ch:
		t.Fatalf("overflow event was not dropped: %q", ev.EntityID)
	default:
	}
}

func TestUnsubscribeIsIdempotentAndSafeDuringPublish(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(Event{Trigger: rule.TriggerTaskAssigned})
		}
	}()
	unsub()
	unsub()
	<-done
}
