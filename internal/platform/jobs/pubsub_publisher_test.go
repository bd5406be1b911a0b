package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vitrina/api/internal/services"
)

func newTestClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestPubSubEventPublisherPublishesInventoryEvent(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestClient(t)

	topic, err := client.CreateTopic(ctx, "inventory-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	publisher, err := NewPubSubEventPublisher(topic, nil)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	event := services.InventoryMovementEvent{
		Type:           "inventory.movement.recorded",
		MovementID:     "mv_01",
		VariantID:      "mug_ff0000",
		ProductID:      "mug",
		Delta:          -2,
		Reason:         "sale",
		StockAfter:     8,
		AverageCostUSD: "4.0000",
		OrderID:        "ord_1",
		OccurredAt:     time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC),
	}
	if err := publisher.PublishInventoryEvent(ctx, event); err != nil {
		t.Fatalf("PublishInventoryEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload services.InventoryMovementEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.MovementID != event.MovementID || payload.StockAfter != 8 || payload.Delta != -2 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["variantId"]; attr != "mug_ff0000" {
		t.Fatalf("expected variant attribute, got %q", attr)
	}

	if err := publisher.PublishOrderEvent(ctx, services.OrderEvent{Type: "order.created", OrderID: "ord_1"}); err != nil {
		t.Fatalf("expected order events to be skipped without a topic, got %v", err)
	}
	if got := len(srv.Messages()); got != 1 {
		t.Fatalf("expected no order message, got %d messages", got)
	}
}

func TestPubSubEventPublisherPublishesOrderEvent(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestClient(t)

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	publisher, err := NewPubSubEventPublisher(nil, topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}
	if err := publisher.PublishOrderEvent(ctx, services.OrderEvent{
		Type:        "order.status.changed",
		OrderID:     "ord_1",
		OrderNumber: "ORD-000001",
		Status:      "completed",
		PrevStatus:  "processing",
	}); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if messages[0].Attributes["status"] != "completed" || messages[0].Attributes["type"] != "order.status.changed" {
		t.Fatalf("unexpected attributes %v", messages[0].Attributes)
	}
}

func TestNewPubSubEventPublisherRequiresATopic(t *testing.T) {
	if _, err := NewPubSubEventPublisher(nil, nil); err == nil {
		t.Fatalf("expected error without topics")
	}
}
