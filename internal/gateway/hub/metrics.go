package hub

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/sonolive/internal/infra/messaging/connections"
)

// Metrics defines the metrics collected by the hub.
type Metrics interface {
	// Connection metrics.
	connections.Metrics

	// Message metrics.
	IncMessagesReceived(ctx context.Context, command string)
	IncMessagesSent(ctx context.Context, eventType string)
	IncRejectedCommands(ctx context.Context, kind string)

	// Backpressure metrics.
	IncSlowConsumers(ctx context.Context)
	IncDroppedFrames(ctx context.Context)
	IncResyncs(ctx context.Context)
}

type hubMetrics struct {
	connected      metric.Int64UpDownCounter
	connectedGauge metric.Int64Gauge

	messagesReceived metric.Int64Counter
	messagesSent     metric.Int64Counter
	rejected         metric.Int64Counter

	slowConsumers metric.Int64Counter
	droppedFrames metric.Int64Counter
	resyncs       metric.Int64Counter
}

const namespace = "sonolive_hub"

// NewHubMetrics creates the hub instruments on mp.
func NewHubMetrics(mp metric.MeterProvider) (*hubMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(hubMetrics)
	var err error

	if m.connected, err = meter.Int64UpDownCounter(
		"connected_observers",
		metric.WithDescription("Number of currently attached observers"),
	); err != nil {
		return nil, err
	}

	if m.connectedGauge, err = meter.Int64Gauge(
		"connected_observers_current",
		metric.WithDescription("Observer count as last reported by the registry"),
	); err != nil {
		return nil, err
	}

	if m.messagesReceived, err = meter.Int64Counter(
		"messages_received_total",
		metric.WithDescription("Total number of command frames received"),
	); err != nil {
		return nil, err
	}

	if m.messagesSent, err = meter.Int64Counter(
		"messages_sent_total",
		metric.WithDescription("Total number of event frames enqueued to observers"),
	); err != nil {
		return nil, err
	}

	if m.rejected, err = meter.Int64Counter(
		"commands_rejected_total",
		metric.WithDescription("Total number of commands rejected before or during dispatch"),
	); err != nil {
		return nil, err
	}

	if m.slowConsumers, err = meter.Int64Counter(
		"slow_consumers_total",
		metric.WithDescription("Total number of observers disconnected for falling behind"),
	); err != nil {
		return nil, err
	}

	if m.droppedFrames, err = meter.Int64Counter(
		"dropped_frames_total",
		metric.WithDescription("Total number of frames discarded by the drop_oldest policy"),
	); err != nil {
		return nil, err
	}

	if m.resyncs, err = meter.Int64Counter(
		"resyncs_total",
		metric.WithDescription("Total number of snapshots resent after dropped frames"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *hubMetrics) IncConnectedObservers(ctx context.Context) { m.connected.Add(ctx, 1) }

func (m *hubMetrics) DecConnectedObservers(ctx context.Context) { m.connected.Add(ctx, -1) }

func (m *hubMetrics) SetConnectedObservers(ctx context.Context, count int) {
	m.connectedGauge.Record(ctx, int64(count))
}

func (m *hubMetrics) IncMessagesReceived(ctx context.Context, command string) {
	m.messagesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("command", command)))
}

func (m *hubMetrics) IncMessagesSent(ctx context.Context, eventType string) {
	m.messagesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *hubMetrics) IncRejectedCommands(ctx context.Context, kind string) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *hubMetrics) IncSlowConsumers(ctx context.Context) { m.slowConsumers.Add(ctx, 1) }

func (m *hubMetrics) IncDroppedFrames(ctx context.Context) { m.droppedFrames.Add(ctx, 1) }

func (m *hubMetrics) IncResyncs(ctx context.Context) { m.resyncs.Add(ctx, 1) }
