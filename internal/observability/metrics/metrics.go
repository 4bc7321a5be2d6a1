package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	paymentEvents     metric.Int64Counter
	signatureRejected metric.Int64Counter
	reconcileRetries  metric.Int64Counter
	refunds           metric.Int64Counter
	gatewayCalls      metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "storefront"
	}
	meter := provider.Meter(name)

	paymentEvents, err := meter.Int64Counter("storefront_payment_events_total")
	if err != nil {
		return nil, err
	}
	signatureRejected, err := meter.Int64Counter("storefront_webhook_signature_rejected_total")
	if err != nil {
		return nil, err
	}
	reconcileRetries, err := meter.Int64Counter("storefront_reconcile_retries_total")
	if err != nil {
		return nil, err
	}
	refunds, err := meter.Int64Counter("storefront_refunds_total")
	if err != nil {
		return nil, err
	}
	gatewayCalls, err := meter.Int64Counter("storefront_gateway_calls_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("storefront_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentEvents:     paymentEvents,
		signatureRejected: signatureRejected,
		reconcileRetries:  reconcileRetries,
		refunds:           refunds,
		gatewayCalls:      gatewayCalls,
		rateLimitDenied:   rateLimitDenied,
	}, nil
}

// RecordPaymentEvent counts a verified gateway event by its reconciliation result.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, gateway, outcome, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("gateway", strings.TrimSpace(gateway)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSignatureRejected counts webhook payloads that failed verification.
func (m *Metrics) RecordSignatureRejected(ctx context.Context, gateway string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("gateway", strings.TrimSpace(gateway)))
	m.signatureRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordReconcileRetry(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.reconcileRetries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRefund(ctx context.Context, gateway, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("gateway", strings.TrimSpace(gateway)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.refunds.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordGatewayCall counts outbound gateway API calls by operation and result.
func (m *Metrics) RecordGatewayCall(ctx context.Context, gateway, operation, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("gateway", strings.TrimSpace(gateway)),
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.gatewayCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"gateway":     {},
	"outcome":     {},
	"result":      {},
	"status":      {},
	"operation":   {},
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
