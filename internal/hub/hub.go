// Package hub fans control-plane events (sidecar commits, PTY
// lifecycle, tailer retirement) out to registered consumers.
package hub

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/relaybridge/codexgw/internal/domain"
	"github.com/relaybridge/codexgw/internal/domain/events"
	"github.com/relaybridge/codexgw/internal/domain/ports"
)

// feedCapacity bounds how many undelivered events Publish may queue
// before new events are dropped.
const feedCapacity = 256

// maxStrikes is how many consecutive lagging deliveries a subscriber
// survives before the hub evicts it.
const maxStrikes = 3

// entry pairs a subscriber with its consecutive-failure count.
type entry struct {
	sub     ports.Subscriber
	strikes int
}

// Hub delivers every published event to every registered subscriber.
// Publish never blocks: events queue on an internal feed drained by a
// single dispatch goroutine, and a full feed drops the event. A
// subscriber that keeps lagging is evicted so one stuck consumer can't
// silently eat the feed forever.
type Hub struct {
	feed chan events.Event
	quit chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	subs    map[string]*entry
	started bool
	dropped uint64
}

// New creates a stopped Hub.
func New() *Hub {
	return &Hub{
		feed: make(chan events.Event, feedCapacity),
		quit: make(chan struct{}),
		subs: make(map[string]*entry),
	}
}

// Start launches the dispatch goroutine. Idempotent.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return nil
	}
	h.started = true

	h.wg.Add(1)
	go h.dispatch()
	log.Debug().Msg("event hub started")
	return nil
}

// Stop ends dispatch, waits for in-flight delivery, and closes every
// remaining subscriber. Idempotent.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = false
	h.mu.Unlock()

	close(h.quit)
	h.wg.Wait()

	h.mu.Lock()
	for id, e := range h.subs {
		_ = e.sub.Close()
		delete(h.subs, id)
	}
	h.mu.Unlock()

	log.Debug().Msg("event hub stopped")
	return nil
}

// Publish queues an event for fan-out. Never blocks; a full feed drops
// the event.
func (h *Hub) Publish(event events.Event) {
	select {
	case h.feed <- event:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		log.Warn().
			Str("event_type", string(event.Type())).
			Msg("event dropped, hub feed full")
	}
}

// Subscribe registers a subscriber. Replacing an existing id closes the
// old subscriber first.
func (h *Hub) Subscribe(sub ports.Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.subs[sub.ID()]; ok {
		_ = old.sub.Close()
	}
	h.subs[sub.ID()] = &entry{sub: sub}
	log.Debug().Str("subscriber_id", sub.ID()).Msg("subscriber registered")
}

// Unsubscribe removes and closes a subscriber. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.subs[id]; ok {
		_ = e.sub.Close()
		delete(h.subs, id)
		log.Debug().Str("subscriber_id", id).Msg("subscriber unregistered")
	}
}

// SubscriberCount returns the number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// DroppedCount returns how many events Publish has discarded on a full
// feed.
func (h *Hub) DroppedCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub) dispatch() {
	defer h.wg.Done()
	for {
		select {
		case <-h.quit:
			return
		case event := <-h.feed:
			h.deliver(event)
		}
	}
}

// deliver hands one event to every subscriber. A closed subscriber is
// evicted immediately; a lagging one accumulates strikes and is evicted
// at maxStrikes. Any successful delivery clears its strikes.
func (h *Hub) deliver(event events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, e := range h.subs {
		err := e.sub.Deliver(event)
		switch {
		case err == nil:
			e.strikes = 0
		case errors.Is(err, domain.ErrSubscriberLagging):
			e.strikes++
			if e.strikes >= maxStrikes {
				log.Warn().
					Str("subscriber_id", id).
					Int("strikes", e.strikes).
					Msg("evicting lagging subscriber")
				_ = e.sub.Close()
				delete(h.subs, id)
			}
		default:
			log.Warn().
				Str("subscriber_id", id).
				Err(err).
				Msg("evicting failed subscriber")
			_ = e.sub.Close()
			delete(h.subs, id)
		}
	}
}
