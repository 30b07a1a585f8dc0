package server_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/relaychat/internal/message"
	"github.com/Tyrowin/relaychat/internal/server"
)

func newRunningHub(t *testing.T, options ...server.HubOption) *server.Hub {
	t.Helper()
	hub := server.NewHub(options...)
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(time.Second) })
	return hub
}

func subscribe(t *testing.T, hub *server.Hub, id string) *server.Subscription {
	t.Helper()
	sub, err := hub.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe(%q) error = %v", id, err)
	}
	return sub
}

func text(body string) message.UserMessage {
	return message.UserMessage{Message: message.Text{Body: body}}
}

func receive(t *testing.T, sub *server.Subscription) server.BroadcastMessage {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		if !ok {
			t.Fatalf("subscription %s closed while waiting for a message", sub.ID())
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription %s received nothing", sub.ID())
	}
	return server.BroadcastMessage{}
}

func expectNothing(t *testing.T, sub *server.Subscription) {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		if ok {
			t.Errorf("subscription %s unexpectedly received %+v", sub.ID(), msg)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

// TestHubFanOutSkipsOrigin verifies that a published message reaches every
// subscriber exactly once except the one that published it.
func TestHubFanOutSkipsOrigin(t *testing.T) {
	hub := newRunningHub(t)
	a := subscribe(t, hub, "a")
	b := subscribe(t, hub, "b")
	c := subscribe(t, hub, "c")

	if err := hub.Publish("a", text("hello")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	for _, sub := range []*server.Subscription{b, c} {
		got := receive(t, sub)
		if got.Origin != "a" {
			t.Errorf("%s: origin = %q, want %q", sub.ID(), got.Origin, "a")
		}
		if got.Payload.Message != (message.Text{Body: "hello"}) {
			t.Errorf("%s: message = %#v, want Text hello", sub.ID(), got.Payload.Message)
		}
		expectNothing(t, sub)
	}
	expectNothing(t, a)
}

// TestHubPreservesOrderPerOrigin verifies FIFO delivery of messages from one origin.
func TestHubPreservesOrderPerOrigin(t *testing.T) {
	hub := newRunningHub(t)
	subscribe(t, hub, "sender")
	reader := subscribe(t, hub, "reader")

	const count = 20
	for i := 0; i < count; i++ {
		if err := hub.Publish("sender", text(fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("Publish(%d) error = %v", i, err)
		}
	}

	for i := 0; i < count; i++ {
		got := receive(t, reader)
		want := message.Text{Body: fmt.Sprintf("msg-%d", i)}
		if got.Payload.Message != want {
			t.Fatalf("message %d = %#v, want %#v", i, got.Payload.Message, want)
		}
	}
}

// TestHubSubscribeDuplicate verifies that an identity can only be registered once.
func TestHubSubscribeDuplicate(t *testing.T) {
	hub := newRunningHub(t)
	subscribe(t, hub, "peer")

	_, err := hub.Subscribe("peer")
	if !errors.Is(err, server.ErrDuplicateConn) {
		t.Errorf("second Subscribe() error = %v, want ErrDuplicateConn", err)
	}
	if hub.Len() != 1 {
		t.Errorf("Len() = %d, want 1", hub.Len())
	}
}

// TestHubUnsubscribe verifies that closing a subscription removes it from the
// registry, closes its channel, and frees its identity.
func TestHubUnsubscribe(t *testing.T) {
	hub := newRunningHub(t)
	sub := subscribe(t, hub, "peer")

	sub.Close()
	sub.Close()

	if hub.Has("peer") {
		t.Error("Has(peer) = true after Close")
	}
	if _, ok := <-sub.C(); ok {
		t.Error("subscription channel still open after Close")
	}

	again := subscribe(t, hub, "peer")
	if again == sub {
		t.Error("Subscribe returned the closed subscription")
	}
}

// TestHubLaggingSubscriberOnlyLosesItsOwnMessages verifies that a full
// subscriber buffer drops messages for that subscriber alone.
func TestHubLaggingSubscriberOnlyLosesItsOwnMessages(t *testing.T) {
	hub := newRunningHub(t, server.WithSubscriberBuffer(1))
	slow := subscribe(t, hub, "slow")
	fast := subscribe(t, hub, "fast")

	const count = 5
	for i := 0; i < count; i++ {
		if err := hub.Publish("origin", text(fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("Publish(%d) error = %v", i, err)
		}
		got := receive(t, fast)
		if want := (message.Text{Body: fmt.Sprintf("msg-%d", i)}); got.Payload.Message != want {
			t.Fatalf("fast message %d = %#v, want %#v", i, got.Payload.Message, want)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for slow.Dropped() != count-1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if slow.Dropped() != count-1 {
		t.Errorf("slow.Dropped() = %d, want %d", slow.Dropped(), count-1)
	}
	if fast.Dropped() != 0 {
		t.Errorf("fast.Dropped() = %d, want 0", fast.Dropped())
	}

	got := receive(t, slow)
	if want := (message.Text{Body: "msg-0"}); got.Payload.Message != want {
		t.Errorf("slow kept %#v, want the first message", got.Payload.Message)
	}
}

// TestHubPublishNeverBlocks verifies that a full broadcast buffer makes Publish
// fail fast with ErrHubSaturated.
func TestHubPublishNeverBlocks(t *testing.T) {
	// Run is deliberately not started so that nothing drains the buffer.
	hub := server.NewHub(server.WithBroadcastCapacity(server.MinBroadcastCapacity))
	defer hub.Shutdown(time.Second)

	for i := 0; i < server.MinBroadcastCapacity; i++ {
		if err := hub.Publish("origin", text("fill")); err != nil {
			t.Fatalf("Publish(%d) error = %v", i, err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- hub.Publish("origin", text("overflow")) }()

	select {
	case err := <-done:
		if !errors.Is(err, server.ErrHubSaturated) {
			t.Errorf("Publish() on a full hub error = %v, want ErrHubSaturated", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Publish() blocked on a full hub")
	}
}

// TestHubCapacityFloor verifies that capacities below the minimum are raised.
func TestHubCapacityFloor(t *testing.T) {
	hub := server.NewHub(server.WithBroadcastCapacity(1))
	defer hub.Shutdown(time.Second)

	for i := 0; i < server.MinBroadcastCapacity; i++ {
		if err := hub.Publish("origin", text("fill")); err != nil {
			t.Fatalf("Publish(%d) error = %v with capacity below the floor", i, err)
		}
	}
}

// TestHubShutdown verifies that shutdown closes every subscription and rejects
// further use of the hub.
func TestHubShutdown(t *testing.T) {
	hub := server.NewHub()
	go hub.Run()
	sub := subscribe(t, hub, "peer")

	if err := hub.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Error("received a message instead of channel close")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed by Shutdown")
	}

	if _, err := hub.Subscribe("late"); !errors.Is(err, server.ErrHubClosed) {
		t.Errorf("Subscribe() after Shutdown error = %v, want ErrHubClosed", err)
	}
	if err := hub.Publish("peer", text("late")); !errors.Is(err, server.ErrHubClosed) {
		t.Errorf("Publish() after Shutdown error = %v, want ErrHubClosed", err)
	}

	// Closing a subscription the hub already closed must not panic.
	sub.Close()
}

// TestHubShutdownWithoutRun verifies that a hub that never ran still closes its subscriptions.
func TestHubShutdownWithoutRun(t *testing.T) {
	hub := server.NewHub()
	sub := subscribe(t, hub, "peer")

	if err := hub.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if _, ok := <-sub.C(); ok {
		t.Error("subscription channel still open")
	}
}

// TestConcurrentHubOperations tests that the hub handles concurrent publishers
// and subscribers safely.
func TestConcurrentHubOperations(t *testing.T) {
	hub := newRunningHub(t)
	reader := subscribe(t, hub, "reader")

	const publishers, perPublisher = 10, 10
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			origin := fmt.Sprintf("publisher-%d", id)
			sub, err := hub.Subscribe(origin)
			if err != nil {
				t.Errorf("Subscribe(%s) error = %v", origin, err)
				return
			}
			defer sub.Close()
			for i := 0; i < perPublisher; i++ {
				if err := hub.Publish(origin, text("concurrent")); err != nil {
					t.Errorf("Publish() error = %v", err)
				}
			}
		}(p)
	}
	wg.Wait()

	for i := 0; i < publishers*perPublisher; i++ {
		receive(t, reader)
	}
	if reader.Dropped() != 0 {
		t.Errorf("reader dropped %d messages", reader.Dropped())
	}
}
