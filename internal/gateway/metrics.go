package gateway

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	droppedRateLimited = metric.WithAttributes(attribute.String("reason", "rate_limited"))
	droppedStale       = metric.WithAttributes(attribute.String("reason", "stale_connection"))
	droppedPanic       = metric.WithAttributes(attribute.String("reason", "handler_panic"))
)

func rejectedReason(reason string) metric.AddOption {
	return metric.WithAttributes(attribute.String("reason", reason))
}

func closedReason(err error) metric.AddOption {
	reason := "graceful"
	if err != nil {
		reason = "error"
	}
	return metric.WithAttributes(attribute.String("reason", reason))
}

// metrics holds the gateway's OpenTelemetry instruments.
type metrics struct {
	active            metric.Int64UpDownCounter
	opened            metric.Int64Counter
	closed            metric.Int64Counter
	rejected          metric.Int64Counter
	inbound           metric.Int64Counter
	outbound          metric.Int64Counter
	dropped           metric.Int64Counter
	broadcastFailures metric.Int64Counter
}

func newMetrics(m metric.Meter) *metrics {
	fallback := noop.NewMeterProvider().Meter("gateway")

	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}

	active, err := m.Int64UpDownCounter("gateway.connections.active",
		metric.WithDescription("Connections currently in the registry"))
	if err != nil {
		active, _ = fallback.Int64UpDownCounter("gateway.connections.active")
	}

	return &metrics{
		active:            active,
		opened:            counter("gateway.connections.opened", "Successful upgrades"),
		closed:            counter("gateway.connections.closed", "Connections that reached Closed"),
		rejected:          counter("gateway.upgrades.rejected", "Upgrade requests rejected before or during the handshake"),
		inbound:           counter("gateway.messages.inbound", "Frames dispatched to handlers"),
		outbound:          counter("gateway.messages.outbound", "Frames written to peers"),
		dropped:           counter("gateway.messages.dropped", "Inbound frames dropped (stale connection or rate limit)"),
		broadcastFailures: counter("gateway.broadcast.failures", "Broadcast recipients that could not be queued"),
	}
}
