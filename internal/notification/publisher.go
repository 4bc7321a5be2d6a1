package notification

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smallbiznis/storefront/internal/config"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	"github.com/smallbiznis/storefront/pkg/telemetry/correlation"
)

const (
	HeaderRequestID     = "request_id"
	HeaderEventType     = "event_type"
	HeaderCorrelationID = "correlation_id"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes order and payment events to a Kafka topic keyed by order.
type Publisher struct {
	w messageWriter
}

func NewPublisher(cfg config.KafkaConfig) *Publisher {
	return &Publisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func newPublisherWithWriter(w messageWriter) *Publisher {
	return &Publisher{w: w}
}

func (p *Publisher) Close() error { return p.w.Close() }

func (p *Publisher) Publish(ctx context.Context, event Event) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.Key()),
		Value:   b,
		Headers: headers(ctx, event),
		Time:    event.OccurredAt,
	})
}

func headers(ctx context.Context, event Event) []kafka.Header {
	out := []kafka.Header{{Key: HeaderEventType, Value: []byte(event.Type)}}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		out = append(out, kafka.Header{Key: HeaderRequestID, Value: []byte(requestID)})
	}
	extra := correlation.Headers(ctx)
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, kafka.Header{Key: k, Value: []byte(extra[k])})
	}
	return out
}
