package headless

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"prebuildd/models"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()

	first, cancelFirst := bus.Subscribe()
	defer cancelFirst()
	second, cancelSecond := bus.Subscribe()
	defer cancelSecond()

	event := CompletionEvent{WorkspaceID: "ws_1", State: models.PrebuildStateAvailable}
	bus.Publish(event)

	for _, sub := range []<-chan CompletionEvent{first, second} {
		select {
		case got := <-sub:
			assert.Equal(t, event, got)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for completion event")
		}
	}
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	bus := NewBus()

	sub, cancel := bus.Subscribe()
	cancel()

	// Publish after cancel must neither block nor deliver
	bus.Publish(CompletionEvent{WorkspaceID: "ws_2", State: models.PrebuildStateTimeout})

	select {
	case event := <-sub:
		t.Fatalf("unexpected delivery after cancel: %+v", event)
	default:
	}
}

func TestBus_SlowSubscriberLosesNoEvents(t *testing.T) {
	bus := NewBus()

	sub, cancel := bus.Subscribe()
	defer cancel()

	const total = 100 // well past the subscriber buffer

	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 0; i < total; i++ {
			bus.Publish(CompletionEvent{WorkspaceID: "ws_3", State: models.PrebuildStateBuilding})
		}
	}()

	// Drain slower than the publisher fills; every event must arrive
	received := 0
	for received < total {
		select {
		case <-sub:
			received++
		case <-time.After(2 * time.Second):
			t.Fatalf("lost completion events: got %d of %d", received, total)
		}
	}

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher still blocked after all events were consumed")
	}
}

func TestBus_CancelUnblocksPendingPublisher(t *testing.T) {
	bus := NewBus()

	_, cancel := bus.Subscribe()

	published := make(chan struct{})
	go func() {
		defer close(published)
		// More events than the subscriber buffer holds, never consumed
		for i := 0; i < 100; i++ {
			bus.Publish(CompletionEvent{WorkspaceID: "ws_4", State: models.PrebuildStateBuilding})
		}
	}()

	cancel()

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher stayed blocked after the subscriber unsubscribed")
	}
}
