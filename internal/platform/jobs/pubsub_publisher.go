package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/marketlane/api/internal/services"
)

// PubSubOrderEventPublisher publishes order lifecycle events for downstream notification workers.
type PubSubOrderEventPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubOrderEventPublisher constructs a publisher bound to topic. Messages are ordered per
// order id so consumers see placed before status changes.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderEventPublisher{topic: topic}, nil
}

// PublishOrderEvent sends event and blocks until the server acknowledges it.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order publisher: not initialised")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string, 4)
	setAttr(attrs, "event", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", event.Status)
	setAttr(attrs, "sellerIds", strings.Join(event.SellerIDs, ","))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: event.OrderID,
	})
	id, err := result.Get(ctx)
	if err != nil {
		p.topic.ResumePublish(event.OrderID)
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *PubSubOrderEventPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
