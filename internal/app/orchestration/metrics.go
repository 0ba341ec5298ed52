package orchestration

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OrchestrationMetrics defines metrics operations needed by the orchestrator.
type OrchestrationMetrics interface {
	// Session lifecycle metrics.
	IncSessionsStarted(ctx context.Context, origin string)
	IncSessionsStopped(ctx context.Context)
	IncConnectivityLosses(ctx context.Context)

	// Expansion metrics.
	TrackBatch(ctx context.Context, f func() error) error
	IncBatchErrors(ctx context.Context, class string)
	IncStaleResultsDropped(ctx context.Context)
	ObserveCandidatesAppended(ctx context.Context, count int)

	// Action metrics.
	IncActionsApplied(ctx context.Context, kind, status string)
	IncDuplicateActions(ctx context.Context, kind string)
	IncCoalescedQueries(ctx context.Context, kind string)

	// Event metrics.
	IncEventsEmitted(ctx context.Context, eventType string)
	IncPublishErrors(ctx context.Context)
}

// orchestrationMetrics implements OrchestrationMetrics.
type orchestrationMetrics struct {
	sessionsStarted    metric.Int64Counter
	sessionsStopped    metric.Int64Counter
	connectivityLosses metric.Int64Counter

	batchesActive      metric.Int64UpDownCounter
	batchDuration      metric.Float64Histogram
	batchErrors        metric.Int64Counter
	staleResults       metric.Int64Counter
	candidatesAppended metric.Int64Histogram

	actionsApplied   metric.Int64Counter
	duplicateActions metric.Int64Counter
	coalescedQueries metric.Int64Counter

	eventsEmitted metric.Int64Counter
	publishErrors metric.Int64Counter
}

const namespace = "sonolive_orchestrator"

// NewOrchestrationMetrics creates the orchestrator instruments on mp.
func NewOrchestrationMetrics(mp metric.MeterProvider) (*orchestrationMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	c := new(orchestrationMetrics)
	var err error

	if c.sessionsStarted, err = meter.Int64Counter(
		"sessions_started_total",
		metric.WithDescription("Total number of discovery runs started"),
	); err != nil {
		return nil, err
	}

	if c.sessionsStopped, err = meter.Int64Counter(
		"sessions_stopped_total",
		metric.WithDescription("Total number of discovery runs stopped by a user"),
	); err != nil {
		return nil, err
	}

	if c.connectivityLosses, err = meter.Int64Counter(
		"connectivity_losses_total",
		metric.WithDescription("Total number of runs abandoned because upstreams were unreachable"),
	); err != nil {
		return nil, err
	}

	if c.batchesActive, err = meter.Int64UpDownCounter(
		"batches_active",
		metric.WithDescription("Number of seed batches currently being expanded"),
	); err != nil {
		return nil, err
	}

	if c.batchDuration, err = meter.Float64Histogram(
		"batch_duration_seconds",
		metric.WithDescription("Time taken to expand one seed batch"),
	); err != nil {
		return nil, err
	}

	if c.batchErrors, err = meter.Int64Counter(
		"batch_errors_total",
		metric.WithDescription("Total number of seed batches that failed"),
	); err != nil {
		return nil, err
	}

	if c.staleResults, err = meter.Int64Counter(
		"stale_results_dropped_total",
		metric.WithDescription("Total number of results discarded because their run ended"),
	); err != nil {
		return nil, err
	}

	if c.candidatesAppended, err = meter.Int64Histogram(
		"candidates_appended",
		metric.WithDescription("Number of candidates appended per batch"),
	); err != nil {
		return nil, err
	}

	if c.actionsApplied, err = meter.Int64Counter(
		"actions_applied_total",
		metric.WithDescription("Total number of candidate actions applied"),
	); err != nil {
		return nil, err
	}

	if c.duplicateActions, err = meter.Int64Counter(
		"duplicate_actions_total",
		metric.WithDescription("Total number of actions ignored because one was already in flight"),
	); err != nil {
		return nil, err
	}

	if c.coalescedQueries, err = meter.Int64Counter(
		"coalesced_queries_total",
		metric.WithDescription("Total number of queries that shared an in-flight result"),
	); err != nil {
		return nil, err
	}

	if c.eventsEmitted, err = meter.Int64Counter(
		"events_emitted_total",
		metric.WithDescription("Total number of session events emitted"),
	); err != nil {
		return nil, err
	}

	if c.publishErrors, err = meter.Int64Counter(
		"publish_errors_total",
		metric.WithDescription("Total number of events that failed to publish"),
	); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *orchestrationMetrics) IncSessionsStarted(ctx context.Context, origin string) {
	c.sessionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", origin)))
}

func (c *orchestrationMetrics) IncSessionsStopped(ctx context.Context) {
	c.sessionsStopped.Add(ctx, 1)
}

func (c *orchestrationMetrics) IncConnectivityLosses(ctx context.Context) {
	c.connectivityLosses.Add(ctx, 1)
}

// TrackBatch records the duration of f and the number of batches in flight.
func (c *orchestrationMetrics) TrackBatch(ctx context.Context, f func() error) error {
	c.batchesActive.Add(ctx, 1)
	defer c.batchesActive.Add(ctx, -1)

	start := time.Now()
	err := f()
	c.batchDuration.Record(ctx, time.Since(start).Seconds())
	return err
}

func (c *orchestrationMetrics) IncBatchErrors(ctx context.Context, class string) {
	c.batchErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}

func (c *orchestrationMetrics) IncStaleResultsDropped(ctx context.Context) {
	c.staleResults.Add(ctx, 1)
}

func (c *orchestrationMetrics) ObserveCandidatesAppended(ctx context.Context, count int) {
	c.candidatesAppended.Record(ctx, int64(count))
}

func (c *orchestrationMetrics) IncActionsApplied(ctx context.Context, kind, status string) {
	c.actionsApplied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

func (c *orchestrationMetrics) IncDuplicateActions(ctx context.Context, kind string) {
	c.duplicateActions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (c *orchestrationMetrics) IncCoalescedQueries(ctx context.Context, kind string) {
	c.coalescedQueries.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (c *orchestrationMetrics) IncEventsEmitted(ctx context.Context, eventType string) {
	c.eventsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

func (c *orchestrationMetrics) IncPublishErrors(ctx context.Context) {
	c.publishErrors.Add(ctx, 1)
}
