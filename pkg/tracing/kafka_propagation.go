package tracing

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const TraceparentHeader = "traceparent"

// ExtractKafkaHeaders continues the trace carried by a consumed message.
// Only the keys the global propagator understands are read.
func ExtractKafkaHeaders(ctx context.Context, headers []kafka.Header) context.Context {
	prop := otel.GetTextMapPropagator()
	carrier := make(propagation.MapCarrier, len(prop.Fields()))
	for _, field := range prop.Fields() {
		if v := HeaderValue(headers, field); v != "" {
			carrier.Set(field, v)
		}
	}
	return prop.Extract(ctx, carrier)
}

// HeaderValue returns the first header named key, or "".
func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
