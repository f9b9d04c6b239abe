package gauge

import (
	"context"
	"sync"

	"vaultkit.org/internal/obs"
)

// Bus fans events out to all active subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBus initialises an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish fans the event out to all subscribers.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Emit builds an outbound vault event and publishes it.
func (b *Bus) Emit(typ string, insight Insight) Event {
	evt := NewEvent(typ, insight)
	b.Publish(evt)
	return evt
}

// RegisterAdvisor subscribes a handler that logs advisory actions for every
// inbound event until the context ends.
func RegisterAdvisor(ctx context.Context, b *Bus) {
	events := b.Subscribe(ctx)
	go func() {
		for evt := range events {
			action := Handle(evt)
			if action.Action == ActionNone {
				continue
			}
			obs.LogRequest(map[string]any{
				"type":           "gauge_advisory",
				"event_id":       evt.ID,
				"source":         evt.Source,
				"action":         action.Action,
				"reason":         action.Reason,
				"recommendation": action.Recommendation,
			})
		}
	}()
}
