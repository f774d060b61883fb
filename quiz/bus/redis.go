package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"melodyquest/quiz/events"
)

const (
	publishTimeout   = 3 * time.Second
	publishQueueSize = 1024
)

var (
	ErrQueueFull = errors.New("publish queue is full")
	ErrClosed    = errors.New("bus is closed")
)

type outgoing struct {
	channel string
	typ     events.Type
	payload []byte
}

// RedisBus publishes with PUBLISH and subscribes with PSUBSCRIBE. Publish
// only queues the event; a background goroutine sends it, so a slow Redis
// never holds up the caller.
type RedisBus struct {
	rdb    *redis.Client
	logger *zap.Logger

	queue     chan outgoing
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewRedisBus(rdb *redis.Client, logger *zap.Logger) *RedisBus {
	b := &RedisBus{
		rdb:    rdb,
		logger: logger,
		queue:  make(chan outgoing, publishQueueSize),
		done:   make(chan struct{}),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

func (b *RedisBus) Publish(_ context.Context, channel string, ev events.Event) error {
	payload, err := events.Encode(ev)
	if err != nil {
		return err
	}
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.queue <- outgoing{channel: channel, typ: ev.Type(), payload: payload}:
		return nil
	default:
		return fmt.Errorf("drop %s on %s: %w", ev.Type(), channel, ErrQueueFull)
	}
}

func (b *RedisBus) run() {
	defer b.wg.Done()
	for {
		select {
		case msg := <-b.queue:
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			b.send(ctx, msg)
			cancel()
		case <-b.done:
			b.flush()
			return
		}
	}
}

// flush sends what was queued before Close, bounded by one publish timeout.
func (b *RedisBus) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	for {
		select {
		case msg := <-b.queue:
			b.send(ctx, msg)
		default:
			return
		}
	}
}

func (b *RedisBus) send(ctx context.Context, msg outgoing) {
	if err := b.rdb.Publish(ctx, msg.channel, msg.payload).Err(); err != nil {
		b.logger.Error("Failed to publish event",
			zap.String("channel", msg.channel), zap.String("type", string(msg.typ)), zap.Error(err))
	}
}

func (b *RedisBus) Subscribe(ctx context.Context, pattern string, h Handler) error {
	ps := b.rdb.PSubscribe(ctx, pattern)
	defer ps.Close()

	// Wait for the subscription confirmation so a failing server is reported.
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s: %w", pattern, err)
	}
	b.logger.Info("Subscribed to event bus", zap.String("pattern", pattern))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := events.Decode([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("Invalid event payload", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			h(Message{Channel: msg.Channel, Event: ev})
		}
	}
}

// Close flushes queued events and closes the Redis client.
func (b *RedisBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		err = b.rdb.Close()
	})
	return err
}
