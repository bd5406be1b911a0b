package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/vitrina/api/internal/services"
)

// PubSubEventPublisher publishes inventory and order domain events to Pub/Sub topics.
// A nil topic disables publishing for that event family.
type PubSubEventPublisher struct {
	inventory *pubsub.Topic
	orders    *pubsub.Topic
	marshal   func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubEventPublisher(inventory, orders *pubsub.Topic) (*PubSubEventPublisher, error) {
	if inventory == nil && orders == nil {
		return nil, errors.New("pubsub event publisher: at least one topic is required")
	}
	return &PubSubEventPublisher{
		inventory: inventory,
		orders:    orders,
		marshal:   json.Marshal,
	}, nil
}

// PublishInventoryEvent implements services.InventoryEventPublisher.
func (p *PubSubEventPublisher) PublishInventoryEvent(ctx context.Context, event services.InventoryMovementEvent) error {
	if p == nil || p.inventory == nil {
		return nil
	}
	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "variantId", event.VariantID)
	setAttr(attrs, "movementId", event.MovementID)
	setAttr(attrs, "reason", event.Reason)
	setAttr(attrs, "orderId", event.OrderID)
	return p.publish(ctx, p.inventory, event, attrs)
}

// PublishOrderEvent implements services.OrderEventPublisher.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.orders == nil {
		return nil
	}
	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", event.Status)
	return p.publish(ctx, p.orders, event, attrs)
}

func (p *PubSubEventPublisher) publish(ctx context.Context, topic *pubsub.Topic, payload any, attrs map[string]string) error {
	data, err := p.marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", attrs["type"], err)
	}
	result := topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s event: %w", attrs["type"], err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
