package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/layer-3/passport"
)

// DefaultTopic is the topic session events are published to
const DefaultTopic = "passport.session"

// WatermillPublisher implements the passport.EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher, topic string) *WatermillPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &WatermillPublisher{
		publisher: publisher,
		topic:     topic,
	}
}

// PublishSessionEvent publishes a session lifecycle event as JSON
func (p *WatermillPublisher) PublishSessionEvent(ctx context.Context, event passport.SessionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("kind", string(event.Kind))
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// DecodeSessionEvent decodes a message produced by PublishSessionEvent
func DecodeSessionEvent(msg *message.Message) (passport.SessionEvent, error) {
	var event passport.SessionEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return passport.SessionEvent{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return event, nil
}
