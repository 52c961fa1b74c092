package mq

import (
	"context"
	"encoding/json"
	"fmt"

	appErr "judgehub/pkg/errors"
)

// EventPublisher publishes JSON events to one topic. A publisher without a
// producer drops events, which is how events are switched off.
type EventPublisher struct {
	producer Producer
	topic    string
}

// NewEventPublisher creates a publisher for topic.
func NewEventPublisher(producer Producer, topic string) *EventPublisher {
	return &EventPublisher{producer: producer, topic: topic}
}

// Enabled reports whether events are delivered anywhere.
func (p *EventPublisher) Enabled() bool {
	return p != nil && p.producer != nil && p.topic != ""
}

// Publish encodes event and publishes it keyed by key.
func (p *EventPublisher) Publish(ctx context.Context, key, eventType string, event any) error {
	if !p.Enabled() {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event failed: %w", eventType, err)
	}
	message := NewMessage(payload)
	message.ID = key
	message.SetHeader("type", eventType)
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish %s event failed", eventType)
	}
	return nil
}
