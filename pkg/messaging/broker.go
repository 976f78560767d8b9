package messaging

import (
	"context"
)

// Broker is the durable queue contract between the publisher process and
// the worker processes. Delivery is at-least-once: consumers must
// tolerate duplicate payloads. A subscription is a cancellable stream of
// raw payloads; closing the subscription context ends the stream.
type Broker interface {
	Publish(ctx context.Context, queue string, message interface{}) error
	Subscribe(ctx context.Context, queue string) (<-chan []byte, error)
	Close() error
}
