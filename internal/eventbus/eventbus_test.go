package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub := bus.Subscribe()
	bus.Publish("hello")

	select {
	case ev := <-sub:
		if ev != "hello" {
			t.Fatalf("unexpected event %v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestFanOut(t *testing.T) {
	bus := New()
	defer bus.Close()

	a := bus.Subscribe()
	b := bus.Subscribe()
	bus.Publish(42)

	for _, sub := range []<-chan Event{a, b} {
		select {
		case ev := <-sub:
			if ev != 42 {
				t.Fatalf("unexpected event %v", ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber missed the event")
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub := bus.Subscribe()
	bus.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatalf("unsubscribed channel must be closed")
	}

	// publishing after unsubscribe must not panic
	bus.Publish("late")
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := New()
	defer bus.Close()

	_ = bus.Subscribe()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	bus := New()
	bus.Close()
	sub := bus.Subscribe()
	if _, ok := <-sub; ok {
		t.Fatalf("subscription after close must yield a closed channel")
	}
	bus.Publish("ignored")
	bus.Close() // second close is a no-op
}
