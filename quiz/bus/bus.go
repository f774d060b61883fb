// Package bus carries game events from the services to the realtime
// gateway. Delivery is transient: subscribers only see events published
// while they are subscribed.
package bus

import (
	"context"

	"melodyquest/quiz/events"
)

// Message is an event together with the channel it was published on.
type Message struct {
	Channel string
	Event   events.Event
}

// Handler receives messages from Subscribe.
type Handler func(Message)

// Publisher is the side used by the resolver and the orchestrator.
type Publisher interface {
	Publish(ctx context.Context, channel string, ev events.Event) error
}

// Bus is a publish/subscribe channel keyed by game.
type Bus interface {
	Publisher
	// Subscribe delivers messages on channels matching pattern to h until
	// ctx is done.
	Subscribe(ctx context.Context, pattern string, h Handler) error
	Close() error
}
