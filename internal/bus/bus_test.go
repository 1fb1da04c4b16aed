package bus

import (
	"testing"
	"time"

	"quotefeed/internal/model"
)

func TestPublish_ReachesEverySubscriber(t *testing.T) {
	b := New()
	ch1, cancel1 := b.Subscribe(4)
	ch2, cancel2 := b.Subscribe(4)
	defer cancel1()
	defer cancel2()

	point := &model.MarketDataPoint{Symbol: "AAPL"}
	b.Publish(Event{Kind: KindDataReady, Point: point})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Kind != KindDataReady || e.Point.Symbol != "AAPL" {
				t.Fatalf("unexpected event: %+v", e)
			}
			if e.At.IsZero() {
				t.Fatal("At must be stamped on publish")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublish_NeverBlocksOnFullSubscriber(t *testing.T) {
	b := New()
	slow, cancelSlow := b.Subscribe(1)
	fast, cancelFast := b.Subscribe(8)
	defer cancelSlow()
	defer cancelFast()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(Event{Kind: KindCollected})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// the fast subscriber got everything, the slow one only what fit
	if n := len(fast); n != 5 {
		t.Fatalf("fast subscriber got %d events, want 5", n)
	}
	if n := len(slow); n != 1 {
		t.Fatalf("slow subscriber got %d events, want 1", n)
	}
}

func TestUnsubscribe_ClosesChannelAndStopsDelivery(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(2)

	cancel()
	cancel() // idempotent

	if _, open := <-ch; open {
		t.Fatal("channel should be closed after unsubscribe")
	}
	b.Publish(Event{Kind: KindCollected}) // must not panic
	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("subscriber count = %d, want 0", got)
	}
}

func TestSubscriberCount(t *testing.T) {
	b := New()
	if b.SubscriberCount() != 0 {
		t.Fatal("new bus should have no subscribers")
	}
	_, cancel1 := b.Subscribe(0) // zero buffer gets the default
	_, cancel2 := b.Subscribe(4)
	if got := b.SubscriberCount(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}
	cancel1()
	cancel2()
	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("count after cancel = %d, want 0", got)
	}
}
