package progress

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher serializes ingestion events onto a Provider channel.
type Publisher struct {
	provider Provider
}

func NewPublisher(provider Provider) *Publisher {
	return &Publisher{provider: provider}
}

// PublishUpdate broadcasts a partial-patch update event.
func (p *Publisher) PublishUpdate(ctx context.Context, channel string, update ResourceUpdate) error {
	return p.publish(ctx, channel, EventUpdate, update)
}

// PublishProcessedChunks broadcasts an incremental progress delta.
func (p *Publisher) PublishProcessedChunks(ctx context.Context, channel string, delta ProcessedChunksDelta) error {
	return p.publish(ctx, channel, EventProcessedChunks, delta)
}

func (p *Publisher) publish(ctx context.Context, channel, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	body, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", event, err)
	}
	return p.provider.Publish(ctx, channel, body)
}
