package realtime

import (
	"context"
	"log/slog"
	"sync"
)

type MemoryBroker struct {
	mu     sync.Mutex
	topics map[string]map[*memorySubscription]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{topics: make(map[string]map[*memorySubscription]struct{})}
}

// Publish never blocks. A subscriber whose buffer is full misses the message.
func (b *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.topics[topic] {
		msg := append([]byte(nil), payload...)
		select {
		case sub.ch <- msg:
		default:
			slog.Warn("Dropping message for slow subscriber", "topic", topic)
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &memorySubscription{
		broker: b,
		topic:  topic,
		ch:     make(chan []byte, subscriberBuffer),
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*memorySubscription]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	return sub, nil
}

// Subscribers returns the number of open subscriptions on topic.
func (b *MemoryBroker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

func (b *MemoryBroker) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[sub.topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	}
	// Publish holds the same lock, so nothing can send on ch after this.
	close(sub.ch)
}

type memorySubscription struct {
	broker *MemoryBroker
	topic  string
	ch     chan []byte
	once   sync.Once
}

func (s *memorySubscription) C() <-chan []byte { return s.ch }

func (s *memorySubscription) Close() error {
	s.once.Do(func() { s.broker.remove(s) })
	return nil
}
