package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

type RedisBroker struct {
	Redis *redis.Client
}

func NewRedisBroker(redisClient *redis.Client) *RedisBroker {
	return &RedisBroker{Redis: redisClient}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.Redis.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe waits for Redis to confirm the subscription, so a message
// published after it returns is not missed.
func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := b.Redis.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := &redisSubscription{
		ps:   ps,
		ch:   make(chan []byte, subscriberBuffer),
		done: make(chan struct{}),
	}
	go sub.forward(ps.Channel())
	return sub, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	ch   chan []byte
	done chan struct{}
	once sync.Once
	err  error
}

func (s *redisSubscription) forward(in <-chan *redis.Message) {
	defer close(s.ch)
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) C() <-chan []byte { return s.ch }

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.ps.Close()
	})
	return s.err
}
