// Package headless distributes prebuild completion notifications inside
// the process. The workspace manager reports terminal build states to an
// internal HTTP callback; the bus fans those out to whoever is waiting,
// like a retrigger call blocking for its build to finish.
package headless

import (
	"sync"

	"prebuildd/models"
)

// CompletionEvent is one terminal (or progress) state report for a build
// workspace.
type CompletionEvent struct {
	WorkspaceID string               `json:"workspace_id"`
	State       models.PrebuildState `json:"state"`
	Error       string               `json:"error,omitempty"`
}

// Bus is an in-process publish/subscribe channel for completion events.
// Completion events are the only signal that moves a prebuild out of
// queued/building, so delivery is guaranteed: a publisher blocks on a full
// subscriber buffer until the subscriber catches up or unsubscribes.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	ch   chan CompletionEvent
	done chan struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Subscribe registers a listener. The returned cancel function must be
// called to release it; after cancel, pending publishers stop waiting on
// this subscriber.
func (b *Bus) Subscribe() (<-chan CompletionEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscription{
		ch:   make(chan CompletionEvent, 16),
		done: make(chan struct{}),
	}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.done)
		}
	}
	return sub.ch, cancel
}

// Publish delivers the event to every subscriber, waiting out full
// buffers. Sends happen outside the lock so a slow subscriber never
// blocks Subscribe or cancel.
func (b *Bus) Publish(event CompletionEvent) {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		case <-sub.done:
		}
	}
}
