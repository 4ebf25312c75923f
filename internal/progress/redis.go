package progress

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisProvider implements Provider using Redis Pub/Sub. Redis pub/sub is
// fire-and-forget with no retained backlog, which matches the channel's
// at-most-once contract exactly.
type RedisProvider struct {
	client *redis.Client
}

func NewRedisProvider(client *redis.Client) (*RedisProvider, error) {
	if client == nil {
		return nil, errors.New("progress: redis client is nil")
	}
	return &RedisProvider{client: client}, nil
}

func (p *RedisProvider) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

func (p *RedisProvider) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := p.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan Message, 64)
	go func(messages <-chan *redis.Message) {
		defer close(out)
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				if msg == nil {
					continue
				}
				copied := make([]byte, len(msg.Payload))
				copy(copied, msg.Payload)
				select {
				case out <- Message{Payload: copied}:
				case <-subCtx.Done():
					return
				}
			}
		}
	}(pubsub.Channel())

	return &redisSubscription{pubsub: pubsub, cancel: cancel, messages: out}, nil
}

type redisSubscription struct {
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	messages <-chan Message
	once     sync.Once
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.messages
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pubsub.Close()
	})
	return err
}
