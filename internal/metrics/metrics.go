// Package metrics exports admission decision and policy violation
// counters over OTLP.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	metricSDK "go.opentelemetry.io/otel/sdk/metric"

	"github.com/aslitaser/k8s-sentinel/internal/engine"
	"github.com/aslitaser/k8s-sentinel/internal/policy"
)

const (
	meterName           = "k8s-sentinel"
	decisionMetricName  = "k8s_sentinel_admission_decisions_total"
	violationMetricName = "k8s_sentinel_policy_violations_total"
	timeBetweenExports  = 2 * time.Second
)

// Recorder holds the counters admission decisions and policy violations
// are recorded against. One Recorder is built at startup and shared
// across every request; otel counters are themselves safe for
// concurrent use, matching the engine's own statelessness.
type Recorder struct {
	decisions  metric.Int64Counter
	violations metric.Int64Counter
}

// New wires an OTLP gRPC exporter into a periodic meter provider and
// returns a Recorder bound to it, plus the provider's shutdown func.
// Exporter endpoint and credentials come from the standard
// OTEL_EXPORTER_OTLP_* environment variables.
func New() (*Recorder, func(context.Context) error, error) {
	ctx := context.Background()

	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot start metric exporter: %w", err)
	}
	meterProvider := metricSDK.NewMeterProvider(metricSDK.WithReader(
		metricSDK.NewPeriodicReader(exporter, metricSDK.WithInterval(timeBetweenExports))))
	otel.SetMeterProvider(meterProvider)

	meter := otel.Meter(meterName)
	decisions, err := meter.Int64Counter(decisionMetricName, metric.WithDescription("Admission decisions by endpoint and outcome"))
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create decisions instrument: %w", err)
	}
	violations, err := meter.Int64Counter(violationMetricName, metric.WithDescription("Policy violations by policy and code"))
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create violations instrument: %w", err)
	}

	return &Recorder{decisions: decisions, violations: violations}, meterProvider.Shutdown, nil
}

// RecordDecision records one admission outcome.
func (r *Recorder) RecordDecision(ctx context.Context, mode engine.EndpointMode, allowed bool) {
	r.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", string(mode)),
		attribute.Bool("allowed", allowed),
	))
}

// RecordViolation records one violation emitted during evaluation, keyed
// by policy and violation code.
func (r *Recorder) RecordViolation(ctx context.Context, name policy.PolicyName, code string) {
	r.violations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("policy", string(name)),
		attribute.String("code", code),
	))
}
