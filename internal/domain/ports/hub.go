package ports

import (
	"github.com/relaybridge/codexgw/internal/domain/events"
)

// EventBus is the publish side of the control-plane hub. Core components
// only ever emit; consumers are wired up at startup.
type EventBus interface {
	Publish(event events.Event)
}

// Subscriber consumes events fanned out by the hub. Deliver must not
// block: a consumer that cannot keep up returns
// domain.ErrSubscriberLagging and lets the hub decide whether to evict
// it, a closed one returns domain.ErrSubscriberClosed.
type Subscriber interface {
	ID() string
	Deliver(event events.Event) error
	Close() error
}
