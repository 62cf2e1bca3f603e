/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics and OpenTelemetry tracing.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Supervisor metrics.
	StreamsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muninn_live_streams_live",
		Help: "Number of streams with a supervised relay process running.",
	})

	StreamStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_live_stream_starts_total",
		Help: "Stream start attempts by result.",
	}, []string{"result"})

	StreamExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_live_stream_exits_total",
		Help: "Relay process exits by cause.",
	}, []string{"cause"})

	StreamRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muninn_live_stream_restarts_total",
		Help: "Crash-triggered relay restarts scheduled.",
	})

	HealthCheckReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muninn_live_health_check_reaped_total",
		Help: "Streams reaped by the health check after their process vanished.",
	})

	HealthCheckOverdueTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muninn_live_health_check_overdue_total",
		Help: "Relay processes stopped by the health check for running past their duration limit.",
	})

	// Schedule engine metrics.
	SchedulerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muninn_live_scheduler_ticks_total",
		Help: "Completed schedule poll iterations.",
	})

	SchedulerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_live_scheduler_errors_total",
		Help: "Schedule engine errors by stage.",
	}, []string{"template_id", "stage"})

	ScheduleExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_live_schedule_executions_total",
		Help: "Template executions by outcome.",
	}, []string{"outcome"})

	ScheduleExecutionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "muninn_live_schedule_execution_seconds",
		Help:    "Wall time of one template execution including API retries.",
		Buckets: prometheus.DefBuckets,
	})

	// Broadcast API client metrics.
	BroadcastAPIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_live_broadcast_api_requests_total",
		Help: "Requests to the external broadcast API by operation and outcome.",
	}, []string{"operation", "outcome"})

	// Database metrics, recorded by the gorm callbacks in internal/db.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "muninn_live_db_query_duration_seconds",
		Help:    "Database operation latency by operation and table.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_live_db_errors_total",
		Help: "Database errors by operation and kind.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muninn_live_db_connections_active",
		Help: "Open database connections.",
	})

	// HTTP API metrics, recorded by MetricsMiddleware.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_live_api_requests_total",
		Help: "HTTP API requests by method, endpoint, and status.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "muninn_live_api_request_duration_seconds",
		Help:    "HTTP API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muninn_live_api_active_connections",
		Help: "In-flight HTTP API requests.",
	})

	// Leader election metrics for multi-instance deployments.
	LeaderStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "muninn_live_leader_status",
		Help: "1 when this instance holds the engine leadership lease.",
	}, []string{"instance"})

	LeaderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muninn_live_leader_transitions_total",
		Help: "Leadership acquisitions and losses by instance.",
	}, []string{"instance", "transition"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
