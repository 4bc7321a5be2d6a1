package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("gateway", "stripe"),
		attribute.String("order_id", "456"),
		attribute.String("result", "applied"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "gateway" && attrs[1].Key != "gateway" {
		t.Fatalf("expected gateway to be retained")
	}
	if attrs[0].Key != "result" && attrs[1].Key != "result" {
		t.Fatalf("expected result to be retained")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordPaymentEvent(context.Background(), "stripe", "succeeded", "applied")
	m.RecordSignatureRejected(context.Background(), "payu")
	m.RecordRefund(context.Background(), "razorpay", "pending")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "storefront"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordPaymentEvent(context.Background(), "stripe", "succeeded", "applied")
	m.RecordGatewayCall(context.Background(), "stripe", "create_intent", "ok")
}
