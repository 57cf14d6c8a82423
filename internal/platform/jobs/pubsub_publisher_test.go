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

	"github.com/sfykart/api/internal/services"
)

func newTestTopic(t *testing.T, ctx context.Context) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
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

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, ctx)

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	event := services.OrderEvent{
		Type:          services.OrderEventPlaced,
		OrderID:       "ORD01JABCDEF",
		UserID:        "user-1",
		Status:        "Confirmed",
		PaymentMethod: "cod",
		TotalAmount:   33900,
		Currency:      "INR",
		OccurredAt:    time.Date(2026, 5, 6, 9, 0, 0, 0, time.UTC),
	}
	if _, err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.TotalAmount != 33900 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["eventType"]; attr != services.OrderEventPlaced {
		t.Fatalf("expected eventType attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["userId"]; ok {
		t.Fatalf("user id must not be exposed as an attribute")
	}
}

func TestPubSubOrderEventPublisherRejectsIncompleteEvent(t *testing.T) {
	ctx := context.Background()
	_, topic := newTestTopic(t, ctx)

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}
	if _, err := publisher.PublishOrderEvent(ctx, services.OrderEvent{Type: services.OrderEventCancelled}); err == nil {
		t.Fatalf("expected error for missing order id")
	}
}

func TestNewPubSubOrderEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
