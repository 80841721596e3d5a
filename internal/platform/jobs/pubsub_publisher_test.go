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

	"github.com/craftline/commerce-api/internal/services"
)

func TestPubSubOrderPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderPublisher: %v", err)
	}

	confirmedAt := time.Date(2026, 4, 1, 10, 30, 0, 0, time.UTC)
	msg := services.OrderConfirmedMessage{
		OrderID:     "ord_01HZX3",
		OrderNumber: "SO-2026-000042",
		CustomerID:  "cust_77",
		Channel:     "website",
		CouponCode:  "WELCOME10",
		ItemsPrice:  1499.00,
		Discount:    149.90,
		Shipping:    0,
		Total:       1349.10,
		ConfirmedAt: confirmedAt,
	}

	if _, err := publisher.PublishOrderConfirmed(ctx, msg); err != nil {
		t.Fatalf("PublishOrderConfirmed: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderConfirmedMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != msg.OrderID || payload.Total != msg.Total {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["couponCode"]; attr != "WELCOME10" {
		t.Fatalf("expected coupon code attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["channel"]; attr != "website" {
		t.Fatalf("expected channel attribute, got %q", attr)
	}
}

func TestPubSubOrderPublisherSkipsBlankAttributes(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderPublisher: %v", err)
	}

	msg := services.OrderConfirmedMessage{
		OrderID:    "ord_01HZX4",
		CustomerID: "cust_78",
		Channel:    "sales",
	}
	if _, err := publisher.PublishOrderConfirmed(ctx, msg); err != nil {
		t.Fatalf("PublishOrderConfirmed: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if _, ok := messages[0].Attributes["couponCode"]; ok {
		t.Fatalf("coupon code attribute should not be present for coupon-less orders")
	}
	if _, ok := messages[0].Attributes["orderNumber"]; ok {
		t.Fatalf("blank order number should not produce an attribute")
	}
}

func TestNewPubSubOrderPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
