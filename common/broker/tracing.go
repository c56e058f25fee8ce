package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
)

// InjectTraceContext injects the OpenTelemetry trace context into AMQP
// message headers so consumers can continue the distributed trace.
func InjectTraceContext(ctx context.Context) amqp.Table {
	headers := make(amqp.Table)
	propagator := otel.GetTextMapPropagator()
	propagator.Inject(ctx, &amqpHeadersCarrier{headers: headers})
	return headers
}

// ExtractTraceContext extracts the OpenTelemetry trace context from AMQP
// message headers.
func ExtractTraceContext(ctx context.Context, headers amqp.Table) context.Context {
	propagator := otel.GetTextMapPropagator()
	return propagator.Extract(ctx, &amqpHeadersCarrier{headers: headers})
}

// amqpHeadersCarrier adapts amqp.Table to the TextMapCarrier interface.
type amqpHeadersCarrier struct {
	headers amqp.Table
}

func (c *amqpHeadersCarrier) Get(key string) string {
	if val, ok := c.headers[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func (c *amqpHeadersCarrier) Set(key, value string) {
	c.headers[key] = value
}

func (c *amqpHeadersCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for k := range c.headers {
		keys = append(keys, k)
	}
	return keys
}
