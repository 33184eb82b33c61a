// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for cache operations.
var (
	tracer = otel.Tracer("taskbridge.cache")
	meter  = otel.Meter("taskbridge.cache")
)

// startCacheSpan creates a span for a cache operation.
func startCacheSpan(ctx context.Context, op, fingerprint string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ResultCache."+op,
		trace.WithAttributes(
			attribute.String("cache.operation", op),
			attribute.String("cache.fingerprint", fingerprint),
		),
	)
}

// Metrics for cache operations.
var (
	cacheHits          metric.Int64Counter
	cacheMisses        metric.Int64Counter
	cacheCorruptions   metric.Int64Counter
	cacheInvalidations metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"taskbridge_cache_hits_total",
			metric.WithDescription("Total number of cache hits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"taskbridge_cache_misses_total",
			metric.WithDescription("Total number of cache misses by reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheCorruptions, err = meter.Int64Counter(
			"taskbridge_cache_corruptions_total",
			metric.WithDescription("Total number of checksum failures on read"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheInvalidations, err = meter.Int64Counter(
			"taskbridge_cache_invalidations_total",
			metric.WithDescription("Total entries dropped by entity-class invalidation"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordHit(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheHits.Add(ctx, 1)
}

// missReason is one of "absent", "expired", "corrupt".
func recordMiss(ctx context.Context, missReason string) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", missReason)))
}

func recordCorruption(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheCorruptions.Add(ctx, 1)
}

func recordInvalidations(ctx context.Context, class string, dropped int64) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheInvalidations.Add(ctx, dropped, metric.WithAttributes(attribute.String("class", class)))
}
