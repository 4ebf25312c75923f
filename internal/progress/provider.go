// Package progress implements the best-effort ingestion progress channel.
// Delivery is at-most-once and non-durable: the resource store remains the
// single source of truth, the channel only reduces perceived latency.
package progress

import "context"

// Message is a payload delivered via a pub/sub subscription.
type Message struct {
	Payload []byte
}

// Subscription exposes a stream of messages. Close must be safe to call more
// than once.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Provider is the pub/sub transport seam. Concrete transports (Redis in
// production) are injected, never hardcoded at call sites.
type Provider interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}
