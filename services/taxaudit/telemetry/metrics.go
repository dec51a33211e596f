// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the audit instruments.
//
// All Record methods accept a nil receiver so components can run without
// metrics in tests.
type Metrics struct {
	// ScenariosTotal counts scenario runs by kind and verdict.
	ScenariosTotal metric.Int64Counter

	// ScenarioDuration records scenario wall time in seconds by kind.
	ScenarioDuration metric.Float64Histogram

	// DiagnosesTotal counts full diagnostics by diagnosis verdict.
	DiagnosesTotal metric.Int64Counter

	// GatewayErrorsTotal counts gateway failures by kind and error type
	// (revert, timeout, transport).
	GatewayErrorsTotal metric.Int64Counter

	// ReconciliationErrorsTotal counts snapshot deltas no expectation explains.
	ReconciliationErrorsTotal metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
//
// Example:
//
//	m, err := telemetry.NewMetrics(otel.Meter(telemetry.TracerName))
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ScenariosTotal, err = meter.Int64Counter(
		"feeaudit_scenarios_total",
		metric.WithDescription("Total scenario runs"),
		metric.WithUnit("{scenario}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create scenarios_total: %w", err)
	}

	m.ScenarioDuration, err = meter.Float64Histogram(
		"feeaudit_scenario_duration_seconds",
		metric.WithDescription("Scenario duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create scenario_duration: %w", err)
	}

	m.DiagnosesTotal, err = meter.Int64Counter(
		"feeaudit_diagnoses_total",
		metric.WithDescription("Total full diagnostics by root cause"),
		metric.WithUnit("{diagnosis}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create diagnoses_total: %w", err)
	}

	m.GatewayErrorsTotal, err = meter.Int64Counter(
		"feeaudit_gateway_errors_total",
		metric.WithDescription("Total gateway failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create gateway_errors_total: %w", err)
	}

	m.ReconciliationErrorsTotal, err = meter.Int64Counter(
		"feeaudit_reconciliation_errors_total",
		metric.WithDescription("Total unexplained snapshot deltas"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reconciliation_errors_total: %w", err)
	}

	return m, nil
}

// RecordScenario records one finished scenario.
func (m *Metrics) RecordScenario(ctx context.Context, kind, verdict string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ScenariosTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("verdict", verdict),
	))
	m.ScenarioDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDiagnosis records one full diagnostic.
func (m *Metrics) RecordDiagnosis(ctx context.Context, verdict string) {
	if m == nil {
		return
	}
	m.DiagnosesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
}

// RecordGatewayError records a gateway failure of errType.
func (m *Metrics) RecordGatewayError(ctx context.Context, kind, errType string) {
	if m == nil {
		return
	}
	m.GatewayErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("type", errType),
	))
}

// RecordReconciliationError records an unexplained delta.
func (m *Metrics) RecordReconciliationError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.ReconciliationErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
