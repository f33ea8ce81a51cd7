// Package realtime fans out small messages by topic. The Redis broker reaches
// every node; the memory broker only reaches subscribers in this process.
package realtime

import (
	"context"
	"fmt"
)

const subscriberBuffer = 16

type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription delivers messages published to one topic. Close stops
// delivery and closes C; calling it again is a no-op.
type Subscription interface {
	C() <-chan []byte
	Close() error
}

// StatsTopic is the topic carrying scan stats for an event.
func StatsTopic(eventID string) string {
	return fmt.Sprintf("stats:%s", eventID)
}
