package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/Karlson2k/libmicrohttpd-sub001/daemon"

// metrics holds the daemon's counters. Instrument creation failures
// leave nil instruments; every record site tolerates that.
type metrics struct {
	accepted metric.Int64Counter
	closed   metric.Int64Counter
	timeouts metric.Int64Counter
	active   metric.Int64UpDownCounter
	requests metric.Int64Counter
}

func newMetrics() metrics {
	meter := otel.Meter(instrumentationName)
	var m metrics
	m.accepted, _ = meter.Int64Counter("httpd.connections.accepted",
		metric.WithDescription("Connections accepted"))
	m.closed, _ = meter.Int64Counter("httpd.connections.closed",
		metric.WithDescription("Connections closed"))
	m.timeouts, _ = meter.Int64Counter("httpd.connections.timeouts",
		metric.WithDescription("Connections closed by inactivity timeout"))
	m.active, _ = meter.Int64UpDownCounter("httpd.connections.active",
		metric.WithDescription("Currently open connections"))
	m.requests, _ = meter.Int64Counter("httpd.requests",
		metric.WithDescription("Request cycles completed"))
	return m
}

func (m *metrics) connAccepted() {
	if m.accepted != nil {
		m.accepted.Add(context.Background(), 1)
	}
	if m.active != nil {
		m.active.Add(context.Background(), 1)
	}
}

func (m *metrics) connClosed() {
	if m.closed != nil {
		m.closed.Add(context.Background(), 1)
	}
	if m.active != nil {
		m.active.Add(context.Background(), -1)
	}
}

func (m *metrics) connTimeout() {
	if m.timeouts != nil {
		m.timeouts.Add(context.Background(), 1)
	}
}

func (m *metrics) requestDone(term Termination) {
	if m.requests != nil {
		m.requests.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("termination", term.String())))
	}
}
