package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/sonolive/internal/api/mid"
)

const namespace = "sonolive_api"

// APIMetrics defines metrics operations needed by the HTTP surface.
type APIMetrics interface {
	mid.Metrics
	mid.AuthFailures

	IncUpgrades(ctx context.Context)
	IncUpgradeErrors(ctx context.Context)
}

type apiMetrics struct {
	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram
	authFailures    metric.Int64Counter
	upgrades        metric.Int64Counter
	upgradeErrors   metric.Int64Counter
}

// NewAPIMetrics creates the API instruments from mp.
func NewAPIMetrics(mp metric.MeterProvider) (*apiMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(apiMetrics)
	var err error

	if m.requestsTotal, err = meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.authFailures, err = meter.Int64Counter(
		"auth_failures_total",
		metric.WithDescription("Total number of requests rejected for a missing or unknown token"),
	); err != nil {
		return nil, err
	}

	if m.upgrades, err = meter.Int64Counter(
		"websocket_upgrades_total",
		metric.WithDescription("Total number of observer websocket upgrades"),
	); err != nil {
		return nil, err
	}

	if m.upgradeErrors, err = meter.Int64Counter(
		"websocket_upgrade_errors_total",
		metric.WithDescription("Total number of failed observer websocket upgrades"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *apiMetrics) IncRequestsTotal(ctx context.Context, method, path string, status int) {
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	))
}

func (m *apiMetrics) ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration) {
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
}

func (m *apiMetrics) IncAuthFailures(ctx context.Context) { m.authFailures.Add(ctx, 1) }

func (m *apiMetrics) IncUpgrades(ctx context.Context) { m.upgrades.Add(ctx, 1) }

func (m *apiMetrics) IncUpgradeErrors(ctx context.Context) { m.upgradeErrors.Add(ctx, 1) }
