package live

import (
	"testing"
	"time"
)

func TestHubBroadcastReachesTopicSubscribersOnly(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe("todo-1")
	b := hub.Subscribe("todo-1")
	other := hub.Subscribe("todo-2")

	hub.Broadcast("todo-1", []byte("hello"))

	for _, ch := range []chan []byte{a, b} {
		select {
		case msg := <-ch:
			if string(msg) != "hello" {
				t.Fatalf("unexpected message: %s", msg)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive broadcast")
		}
	}
	select {
	case msg := <-other:
		t.Fatalf("unrelated topic received %s", msg)
	default:
	}
}

func TestHubBroadcastDoesNotBlockOnSlowSubscriber(t *testing.T) {
	hub := NewHub()
	slow := hub.Subscribe("todo-1")
	fast := hub.Subscribe("todo-1")

	// Overflow the slow subscriber's buffer; broadcasts must still return
	// and the healthy subscriber must still get every message.
	for i := 0; i < cap(slow)+5; i++ {
		hub.Broadcast("todo-1", []byte("m"))
		select {
		case <-fast:
		case <-time.After(time.Second):
			t.Fatal("healthy subscriber starved by slow one")
		}
	}
}

func TestHubUnsubscribeClosesChannelAndDropsTopic(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe("todo-1")
	if got := hub.Subscribers("todo-1"); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	hub.Unsubscribe("todo-1", ch)
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
	if got := hub.Subscribers("todo-1"); got != 0 {
		t.Fatalf("expected empty topic, got %d", got)
	}

	// Double unsubscribe must be a no-op.
	hub.Unsubscribe("todo-1", ch)
}
