// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskbridge_engine_executions_total",
		Help: "Total script executions by dialect and outcome",
	}, []string{"dialect", "outcome"})

	executionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskbridge_engine_execution_duration_seconds",
		Help:    "Wall time of interpreter runs",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"dialect"})

	scriptSizeRunes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskbridge_engine_script_size_runes",
		Help:    "Size of executed scripts in runes",
		Buckets: []float64{500, 1000, 5000, 10000, 32000, 64000},
	}, []string{"dialect", "variant"})

	executionsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskbridge_engine_executions_inflight",
		Help: "Interpreter processes currently running",
	})
)
