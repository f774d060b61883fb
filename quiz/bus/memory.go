package bus

import (
	"context"
	"path"
	"sync"

	"go.uber.org/zap"

	"melodyquest/quiz/events"
)

const subscriberBuffer = 256

type subscriber struct {
	pattern string
	ch      chan Message
}

// MemoryBus is an in-process Bus. Publish never blocks: a subscriber whose
// buffer is full misses the message.
type MemoryBus struct {
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	return &MemoryBus{logger: logger, subs: make(map[*subscriber]struct{})}
}

// Publish encodes and decodes ev so subscribers see the same values they
// would receive through Redis.
func (b *MemoryBus) Publish(_ context.Context, channel string, ev events.Event) error {
	data, err := events.Encode(ev)
	if err != nil {
		return err
	}
	decoded, err := events.Decode(data)
	if err != nil {
		return err
	}
	msg := Message{Channel: channel, Event: decoded}

	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- msg:
		default:
			b.logger.Warn("Dropping event for slow subscriber",
				zap.String("channel", channel), zap.String("type", string(ev.Type())))
		}
	}
	return nil
}

// Listen registers a subscriber and returns its message channel along with
// a function that unregisters it.
func (b *MemoryBus) Listen(pattern string) (<-chan Message, func()) {
	s := &subscriber{pattern: pattern, ch: make(chan Message, subscriberBuffer)}
	b.mu.Lock()
	if !b.closed {
		b.subs[s] = struct{}{}
	}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
		})
	}
}

func (b *MemoryBus) Subscribe(ctx context.Context, pattern string, h Handler) error {
	ch, stop := b.Listen(pattern)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			h(msg)
		}
	}
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	clear(b.subs)
	return nil
}
